package threat

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/gatewarden/gatewarden/internal/models"
)

// Family identifies an injection pattern family. Families are evaluated in
// the order defined by familyOrder; within a family the first matching
// pattern wins, so the most specific expressions come first.
type Family string

const (
	FamilyPromptInjection  Family = "prompt_injection"
	FamilySQLInjection     Family = "sql_injection"
	FamilyXSS              Family = "xss"
	FamilyCommandInjection Family = "command_injection"
)

var familyOrder = []Family{
	FamilyPromptInjection,
	FamilySQLInjection,
	FamilyXSS,
	FamilyCommandInjection,
}

// SensitiveClass identifies a sensitive-data pattern class. Matches raise a
// warning to flag redaction needs; they never invalidate a request.
type SensitiveClass string

const (
	SensitiveCreditCard  SensitiveClass = "credit_card"
	SensitiveSSN         SensitiveClass = "ssn"
	SensitiveEmail       SensitiveClass = "email"
	SensitivePhone       SensitiveClass = "phone"
	SensitiveAPIKey      SensitiveClass = "api_key"
	SensitivePassword    SensitiveClass = "password"
	SensitiveBearerToken SensitiveClass = "bearer_token"
	SensitiveJWT         SensitiveClass = "jwt"
)

// Issue codes raised by the detector.
const (
	CodePromptInjection     = "PROMPT_INJECTION"
	CodeSQLInjection        = "SQL_INJECTION"
	CodeXSS                 = "XSS_DETECTED"
	CodeCommandInjection    = "COMMAND_INJECTION"
	CodeSensitiveData       = "SENSITIVE_DATA"
	CodeNumericInvalid      = "NUMERIC_INVALID"
	CodeNumericSuspect      = "NUMERIC_SUSPECT"
	CodeSourceIDInvalid     = "SOURCE_ID_INVALID"
	CodeTimestampOutOfRange = "TIMESTAMP_OUT_OF_RANGE"
)

var familyCodes = map[Family]string{
	FamilyPromptInjection:  CodePromptInjection,
	FamilySQLInjection:     CodeSQLInjection,
	FamilyXSS:              CodeXSS,
	FamilyCommandInjection: CodeCommandInjection,
}

// sourceIDPattern constrains producer identifiers.
var sourceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// Library holds the precompiled pattern tables. Built once at startup and
// shared read-only by all request goroutines.
type Library struct {
	injection map[Family][]*regexp.Regexp
	sensitive map[SensitiveClass]*regexp.Regexp
}

var defaultInjection = map[Family][]string{
	FamilyPromptInjection: {
		`(?i)ignore\s+(all\s+|previous\s+|prior\s+)*(instructions|prompts|rules|context)`,
		`(?i)disregard\s+(all\s+|previous\s+|prior\s+|your\s+)*(instructions|prompts|rules|guidelines)`,
		`(?i)forget\s+(everything|all|your)\s`,
		`(?i)\bsystem\s+prompt\b`,
		`(?i)\byou\s+are\s+now\s+`,
		`(?i)\bact\s+as\s+(if\s+you|a\s+different|an?\s+unrestricted)`,
		`(?i)\bpretend\s+(to\s+be|you\s+are)\b`,
		`(?i)\bnew\s+instructions?\s*:`,
		`(?i)\boverride\s+(your\s+)?(instructions|safety|guardrails)`,
		`(?i)\b(jailbreak|dan\s+mode|developer\s+mode\s+enabled)\b`,
	},
	FamilySQLInjection: {
		`(?i)\bunion\s+(all\s+)?select\b`,
		`(?i)['"]\s*(or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+`,
		`(?i)\b(or|and)\s+1\s*=\s*1\b`,
		`(?i);\s*(drop|delete|truncate|alter|update)\s+(table|from|database)?`,
		`(?i)\binsert\s+into\b`,
		`(?i)\bselect\s+[\w\*,\s]+\s+from\b`,
		`(?i)\bexec(ute)?\s*\(\s*`,
		`(?i)\bxp_cmdshell\b`,
		`(?i)--\s*$`,
		`(?i)/\*.*\*/`,
	},
	FamilyXSS: {
		`(?i)<\s*script[^>]*>`,
		`(?i)<\s*/\s*script\s*>`,
		`(?i)\bjavascript\s*:`,
		`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`,
		`(?i)<\s*(iframe|embed|object|svg)[^>]*>`,
		`(?i)document\s*\.\s*(cookie|write|location)`,
		`(?i)window\s*\.\s*location`,
		`(?i)\beval\s*\(`,
		`(?i)\balert\s*\(`,
	},
	FamilyCommandInjection: {
		`(?i)(;|\||&&|\|\|)\s*(cat|ls|rm|wget|curl|nc|chmod|chown|bash|sh|python|perl|powershell|cmd)\b`,
		"`[^`]+`",
		`\$\([^)]+\)`,
		`(?i)\brm\s+-rf?\b`,
		`(?i)/etc/(passwd|shadow)\b`,
		`(?i)/bin/(ba)?sh\b`,
		`(?i)\b(system|popen|subprocess)\s*\(`,
		`(?i)\bnc\s+-[el]\b`,
	},
}

var defaultSensitive = map[SensitiveClass]string{
	SensitiveCreditCard:  `\b(?:\d{4}[ -]?){3}\d{3,4}\b`,
	SensitiveSSN:         `\b\d{3}-\d{2}-\d{4}\b`,
	SensitiveEmail:       `\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`,
	SensitivePhone:       `\b\+?\d{1,2}[\s.-]?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`,
	SensitiveAPIKey:      `(?i)\b(api[_-]?key|apikey|access[_-]?key)["'\s:=]+[a-zA-Z0-9_\-]{16,}`,
	SensitivePassword:    `(?i)\b(password|passwd|pwd)["'\s:=]+\S+`,
	SensitiveBearerToken: `(?i)\bbearer\s+[a-zA-Z0-9_\-.=]{16,}`,
	SensitiveJWT:         `\beyJ[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]+\b`,
}

// Overlay holds additional patterns merged into the library at startup.
// Loaded from a YAML file keyed by family name.
type Overlay struct {
	PromptInjection  []string `yaml:"prompt_injection"`
	SQLInjection     []string `yaml:"sql_injection"`
	XSS              []string `yaml:"xss"`
	CommandInjection []string `yaml:"command_injection"`
}

func (o *Overlay) forFamily(f Family) []string {
	switch f {
	case FamilyPromptInjection:
		return o.PromptInjection
	case FamilySQLInjection:
		return o.SQLInjection
	case FamilyXSS:
		return o.XSS
	case FamilyCommandInjection:
		return o.CommandInjection
	}
	return nil
}

// NewLibrary compiles the built-in pattern tables plus any overlays.
// A pattern that fails to compile is a configuration error and must block
// process start.
func NewLibrary(overlays ...*Overlay) (*Library, error) {
	lib := &Library{
		injection: make(map[Family][]*regexp.Regexp, len(defaultInjection)),
		sensitive: make(map[SensitiveClass]*regexp.Regexp, len(defaultSensitive)),
	}

	for _, family := range familyOrder {
		exprs := append([]string(nil), defaultInjection[family]...)
		for _, o := range overlays {
			exprs = append(exprs, o.forFamily(family)...)
		}
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("%w: %s pattern %q: %v", models.ErrConfiguration, family, expr, err)
			}
			lib.injection[family] = append(lib.injection[family], re)
		}
	}

	for class, expr := range defaultSensitive {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: sensitive pattern %q: %v", models.ErrConfiguration, class, err)
		}
		lib.sensitive[class] = re
	}

	return lib, nil
}

// LoadOverlay reads an overlay pattern file in YAML format.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read pattern overlay: %v", models.ErrConfiguration, err)
	}
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("%w: parse pattern overlay: %v", models.ErrConfiguration, err)
	}
	return &o, nil
}

// matchFamily returns whether any pattern in the family matches. Evaluation
// stops at the first hit.
func (l *Library) matchFamily(family Family, text string) bool {
	for _, re := range l.injection[family] {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// matchSensitive returns every sensitive class matching the text.
func (l *Library) matchSensitive(text string) []SensitiveClass {
	var classes []SensitiveClass
	for _, class := range sensitiveOrder {
		if l.sensitive[class].MatchString(text) {
			classes = append(classes, class)
		}
	}
	return classes
}

// sensitiveOrder keeps sensitive-data evaluation deterministic.
var sensitiveOrder = []SensitiveClass{
	SensitiveCreditCard,
	SensitiveSSN,
	SensitiveEmail,
	SensitivePhone,
	SensitiveAPIKey,
	SensitivePassword,
	SensitiveBearerToken,
	SensitiveJWT,
}
