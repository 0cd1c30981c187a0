package extract

// Result is the flat extraction record for one source file. It is the input
// contract consumed by the construction engine; absent sections are empty
// slices, never an error.
type Result struct {
	Functions []Function `json:"functions"`
	Classes   []Class    `json:"classes"`
	Imports   []Import   `json:"imports"`

	// Err carries a parse failure note. A failed parse still yields a
	// usable (empty) Result so a single broken file cannot halt a batch.
	Err string `json:"error,omitempty"`
}

// Function describes a function or method definition.
type Function struct {
	Name      string   `json:"name"`
	Args      []string `json:"args"`
	Docstring string   `json:"docstring,omitempty"`
	Returns   string   `json:"returns,omitempty"`
	Lineno    int      `json:"lineno"`
	Calls     []string `json:"calls"`
	IsAsync   bool     `json:"is_async,omitempty"`
}

// Class describes a class definition with its methods.
type Class struct {
	Name       string     `json:"name"`
	Bases      []string   `json:"bases"`
	Docstring  string     `json:"docstring,omitempty"`
	Lineno     int        `json:"lineno"`
	Methods    []Function `json:"methods"`
	IsAbstract bool       `json:"is_abstract,omitempty"`
}

// Import kinds, matching the two Python import statement forms.
const (
	ImportPlain = "import"
	ImportFrom  = "import-from"
)

// Import describes one imported name.
type Import struct {
	Type   string `json:"type"` // ImportPlain or ImportFrom
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
	Asname string `json:"asname,omitempty"`
	Lineno int    `json:"lineno"`
}
