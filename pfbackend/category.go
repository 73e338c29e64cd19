package pfbackend

// Category groups track events. Events are only recorded for registered
// categories.
type Category struct {
	Name        string `yaml:"name" toml:"name" json:"name"`
	Description string `yaml:"description" toml:"description" json:"description,omitempty"`
}

// Built-in category names.
const (
	CategoryComponent = "component"
	CategoryDSP       = "dsp"
)

// DefaultCategories are registered by the session facade on start up.
var DefaultCategories = []Category{
	{Name: CategoryComponent, Description: "Component"},
	{Name: CategoryDSP, Description: "dsp"},
}
