package features

// Field describes one bounded real-valued reading on the input form.
// Bounds are normalization artifacts of the training set (z-scores), so
// "degrees" and "%" are labels only.
type Field struct {
	Name    string
	Label   string
	Unit    string
	Min     float64
	Max     float64
	Default float64
	Step    float64
}

// Fields are the seven numeric readings in canonical model order.
var Fields = []Field{
	{Name: "distance-to-solar-noon", Label: "Distance to Solar Noon", Unit: "degrees", Min: -1.56, Max: 2.24, Step: 0.1},
	{Name: "temperature", Label: "Temperature", Unit: "°C", Min: -2.64, Max: 2.76, Step: 0.1},
	{Name: "wind-direction", Label: "Wind Direction", Unit: "degrees", Min: -3.57, Max: 2.59, Step: 0.1},
	{Name: "wind-speed", Label: "Wind Speed", Unit: "m/s", Min: -2.37, Max: 2.67, Step: 0.1},
	{Name: "humidity", Label: "Humidity", Unit: "%", Min: -2.81, Max: 2.09, Step: 0.1},
	{Name: "average-wind-speed-(period)", Label: "Average Wind Speed", Unit: "m/s", Min: -1.61, Max: 2.75, Step: 0.1},
	{Name: "average-pressure-(period)", Label: "Average Pressure", Unit: "hPa", Min: -2.81, Max: 3.19, Step: 0.1},
}

const (
	// Readings is len(Fields)
	Readings = 7

	// SkyCoverLevels is the number of sky cover categories (0-4)
	SkyCoverLevels = 5

	// SkyCoverField is the form/API name of the categorical input
	SkyCoverField = "sky-cover"
)

// SkyCoverNames are the one-hot indicator names, indexed by level.
var SkyCoverNames = [SkyCoverLevels]string{
	"sky-cover_0",
	"sky-cover_1",
	"sky-cover_2",
	"sky-cover_3",
	"sky-cover_4",
}

// Input is the raw state of the form widgets.
type Input struct {
	Values    map[string]float64 `json:"values"`
	SkyCover  int                `json:"sky_cover"`
	Submitted bool               `json:"-"`
}

// Lookup returns the field definition for name.
func Lookup(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns all twelve feature names in canonical order: the seven
// readings followed by the sky cover indicators.
func Names() []string {
	names := make([]string, 0, len(Fields)+SkyCoverLevels)
	for _, f := range Fields {
		names = append(names, f.Name)
	}
	return append(names, SkyCoverNames[:]...)
}

// Defaults returns the initial widget values.
func Defaults() Input {
	values := make(map[string]float64, len(Fields))
	for _, f := range Fields {
		values[f.Name] = f.Default
	}
	return Input{Values: values}
}

// Clone returns a deep copy so callers can keep an Input without sharing the map.
func (in Input) Clone() Input {
	out := in
	out.Values = make(map[string]float64, len(in.Values))
	for k, v := range in.Values {
		out.Values[k] = v
	}
	return out
}
