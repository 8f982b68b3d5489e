package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"sort"
	"strings"
	"time"

	"git.handmade.network/hmn/imghost/src/images"
	"git.handmade.network/hmn/imghost/src/imgurl"
	"git.handmade.network/hmn/imghost/src/logging"
	"git.handmade.network/hmn/imghost/src/oops"
	"git.handmade.network/hmn/imghost/src/utils"
	"github.com/Masterminds/sprig"
	"github.com/teacat/noire"
)

//go:embed src
var embeddedTemplateFs embed.FS
var embeddedTemplates map[string]*template.Template

// Served as-is under /static.
//
//go:embed static
var embeddedStaticFs embed.FS

func StaticFS() fs.FS {
	return utils.Must1(fs.Sub(embeddedStaticFs, "static"))
}

func getTemplatesFromFS(templateFS fs.ReadDirFS) (map[string]*template.Template, map[string]error) {
	templates := make(map[string]*template.Template)
	errs := make(map[string]error)

	files := utils.Must1(templateFS.ReadDir("src"))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".html") {
			continue
		}

		t := template.New(f.Name())
		t = t.Funcs(sprig.FuncMap())
		t = t.Funcs(ImghostTemplateFuncs)
		t, err := t.ParseFS(templateFS,
			"src/layouts/*",
			"src/include/*",
			"src/"+f.Name(),
		)
		if err != nil {
			errs[f.Name()] = err
			continue
		}

		templates[f.Name()] = t
	}

	return templates, errs
}

func Init() {
	var errs map[string]error
	type errEntry struct {
		name string
		err  error
	}

	embeddedTemplates, errs = getTemplatesFromFS(embeddedTemplateFs)
	if len(errs) > 0 {
		var errsList []errEntry
		for filename, err := range errs {
			errsList = append(errsList, errEntry{filename, err})
		}
		sort.Slice(errsList, func(i, j int) bool {
			return strings.Compare(errsList[i].name, errsList[j].name) < 0
		})
		for _, err := range errsList {
			logging.Error().Str("filename", err.name).Err(err.err).Msg("Failed to parse template")
		}
		panic("Failed to parse templates; see above")
	}
}

func GetTemplate(name string) *template.Template {
	if embeddedTemplates == nil {
		panic(oops.New(nil, "Templates were used before templates.Init was called"))
	}
	template, hasTemplate := embeddedTemplates[name]
	if !hasTemplate {
		panic(oops.New(nil, "Template not found: %s", name))
	}
	return template
}

var ImghostTemplateFuncs = template.FuncMap{
	"absolutedate": func(t time.Time) string {
		return t.UTC().Format("January 2, 2006, 3:04pm")
	},
	"rfc3339": func(t time.Time) string {
		return t.UTC().Format(time.RFC3339)
	},
	"timehtml": func(formatted string, t time.Time) template.HTML {
		iso := t.UTC().Format(time.RFC3339)
		return template.HTML(fmt.Sprintf(`<time datetime="%s">%s</time>`, iso, formatted))
	},
	"filesize": func(numBytes int64) string {
		return images.FormatSize(numBytes)
	},
	"static": func(filepath string) string {
		return imgurl.BuildStatic(filepath)
	},
	"gallerypage": func(page int) string {
		return imgurl.BuildGallery(page)
	},

	"hex2color": func(hex string) (noire.Color, error) {
		if len(hex) < 6 {
			return noire.Color{}, fmt.Errorf("hex color was invalid: %v", hex)
		}
		return noire.NewHex(hex), nil
	},
	"brighten": func(amount float64, color noire.Color) noire.Color {
		return color.Tint(amount)
	},
	"darken": func(amount float64, color noire.Color) noire.Color {
		return color.Shade(amount)
	},
	"alpha": func(alpha float64, color noire.Color) noire.Color {
		color.Alpha = alpha
		return color
	},
	"color2css": func(color noire.Color) template.CSS {
		return template.CSS(color.HTML())
	},
}
