package uiapi

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/awaistahir/solarcast/internal/features"
	"github.com/awaistahir/solarcast/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

type inputView struct {
	features.Field
	Value string
}

type levelView struct {
	Level    int
	Selected bool
}

type pageView struct {
	ShowingResult bool
	Err           string
	ForecastKW    string
	EnergyJ       string
	Model         string
	Inputs        []inputView
	SkyLevels     []levelView
}

func newPageView(st session.State) pageView {
	v := pageView{
		ShowingResult: st.Mode == session.ShowingResult && st.Result != nil,
		Err:           st.Err,
	}

	if v.ShowingResult {
		v.ForecastKW = fmt.Sprintf("%.2f", st.Result.ForecastKW)
		v.EnergyJ = fmt.Sprintf("%.2f", st.Result.EnergyJ)
		v.Model = st.Result.Model
		return v
	}

	for _, f := range features.Fields {
		val, ok := st.Draft.Values[f.Name]
		if !ok {
			val = f.Default
		}
		v.Inputs = append(v.Inputs, inputView{Field: f, Value: strconv.FormatFloat(val, 'f', -1, 64)})
	}
	for level := 0; level < features.SkyCoverLevels; level++ {
		v.SkyLevels = append(v.SkyLevels, levelView{Level: level, Selected: level == st.Draft.SkyCover})
	}
	return v
}

func renderPage(w io.Writer, st session.State) error {
	return pageTmpl.Execute(w, newPageView(st))
}

// parseForm reads the submitted widget values. Blank readings take their
// defaults; anything that is not a number is rejected.
func parseForm(r *http.Request) (features.Input, error) {
	if err := r.ParseForm(); err != nil {
		return features.Input{}, fmt.Errorf("%w: %v", features.ErrInvalidInput, err)
	}

	in := features.Defaults()
	in.Submitted = true

	for _, f := range features.Fields {
		raw := r.PostForm.Get(f.Name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return features.Input{}, fmt.Errorf("%w: %s must be a number", features.ErrInvalidInput, f.Label)
		}
		in.Values[f.Name] = v
	}

	if raw := r.PostForm.Get(features.SkyCoverField); raw != "" {
		level, err := strconv.Atoi(raw)
		if err != nil {
			return features.Input{}, fmt.Errorf("%w: got %q", features.ErrInvalidSkyCover, raw)
		}
		in.SkyCover = level
	}

	return in, nil
}
