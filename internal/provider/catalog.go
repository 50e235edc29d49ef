package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kursadbilgin/callscreen/internal/domain"
)

// App describes a call-blocking app. Apps with TerminatesBlockedCalls hang
// up spam calls instead of showing a warning screen.
type App struct {
	Name                   string
	Package                string
	TerminatesBlockedCalls bool
	NeedsGoogleAccount     bool
}

var catalog = map[string]App{
	"hiya":             {Name: "hiya", Package: "com.webascender.callerid"},
	"truecaller":       {Name: "truecaller", Package: "com.truecaller"},
	"stopcallingme":    {Name: "stopcallingme", Package: "com.mglab.scm", TerminatesBlockedCalls: true},
	"shouldianswer":    {Name: "shouldianswer", Package: "org.mistergroup.shouldianswer"},
	"allinonecallerid": {Name: "allinonecallerid", Package: "com.allinone.callerid"},
	"calleridblock":    {Name: "calleridblock", Package: "com.callerid.block"},
	"telguarder":       {Name: "telguarder", Package: "com.telguarder"},
	"callapp":          {Name: "callapp", Package: "com.callapp.contacts", NeedsGoogleAccount: true},
	"everycallcontrol": {Name: "everycallcontrol", Package: "com.flexaspect.android.everycallcontrol", NeedsGoogleAccount: true},
	"unknownphone":     {Name: "unknownphone", Package: "com.unknownphone.callblocker"},
}

// LookupApp finds a catalog entry by provider name or package id.
func LookupApp(key string) (App, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if app, ok := catalog[normalized]; ok {
		return app, nil
	}
	for _, app := range catalog {
		if app.Package == normalized {
			return app, nil
		}
	}
	return App{}, fmt.Errorf("%w: unknown app %q", domain.ErrValidation, key)
}

// CatalogNames lists known app provider names in sorted order.
func CatalogNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
