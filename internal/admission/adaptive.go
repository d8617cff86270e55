package admission

// LoadFactorFunc reports current system load in [0, 1]. Supplied externally
// (e.g. from a queue-depth or CPU probe); the controller never samples load
// itself.
type LoadFactorFunc func() float64

// AdaptiveController is a local controller whose refill rate scales with
// external load: 1.5x the configured rate when load < 0.3, 0.5x when
// load > 0.7, unchanged in between. Scaling is applied at check time, so a
// load change takes effect on the next request.
type AdaptiveController struct {
	*LocalController
}

// NewAdaptiveController builds an adaptive controller around the configured
// local strategy.
func NewAdaptiveController(cfg Config, load LoadFactorFunc) (*AdaptiveController, error) {
	local, err := NewLocalController(cfg)
	if err != nil {
		return nil, err
	}
	local.loadFn = load
	return &AdaptiveController{LocalController: local}, nil
}
