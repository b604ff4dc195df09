package listing

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PropertyType is the coarse kind of property reported in the listing payload.
type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyHouse      PropertyType = "house"
	PropertyOffice     PropertyType = "office"
	PropertyGarage     PropertyType = "garage"
	PropertyLand       PropertyType = "land"
	PropertyCommercial PropertyType = "commercial"
	PropertyUnknown    PropertyType = "unknown"
)

// AgentKind describes who published the listing.
type AgentKind string

const (
	AgentOwner     AgentKind = "owner"
	AgentAgency    AgentKind = "agency"
	AgentDeveloper AgentKind = "developer"
	AgentOther     AgentKind = "other"
)

// fold lower-cases with Azerbaijani rules ("İ" -> "i", "I" -> "ı") and
// collapses whitespace. A Caser is stateful, so one is built per call.
func fold(s string) string {
	return strings.Join(strings.Fields(cases.Lower(language.Azerbaijani).String(s)), " ")
}

var propertyTypeLabels = map[string]PropertyType{
	"mənzil":       PropertyApartment,
	"yeni tikili":  PropertyApartment,
	"köhnə tikili": PropertyApartment,
	"apartment":    PropertyApartment,
	"flat":         PropertyApartment,
	"həyət evi":    PropertyHouse,
	"bağ evi":      PropertyHouse,
	"villa":        PropertyHouse,
	"house":        PropertyHouse,
	"ofis":         PropertyOffice,
	"office":       PropertyOffice,
	"qaraj":        PropertyGarage,
	"garage":       PropertyGarage,
	"torpaq":       PropertyLand,
	"land":         PropertyLand,
	"obyekt":       PropertyCommercial,
	"commercial":   PropertyCommercial,
	"kommersiya":   PropertyCommercial,
}

// ParsePropertyType maps an upstream type label or code to a PropertyType.
func ParsePropertyType(raw string) PropertyType {
	if raw == "" {
		return PropertyUnknown
	}
	if pt, ok := propertyTypeLabels[fold(raw)]; ok {
		return pt
	}
	return PropertyUnknown
}

// ParseAgentKind maps the company target type. An empty value means the
// listing has no company attached and was published by the owner.
func ParseAgentKind(targetType string) AgentKind {
	switch fold(targetType) {
	case "":
		return AgentOwner
	case "agency", "agent":
		return AgentAgency
	case "complex", "residentialcomplex", "residential_complex", "builder", "developer":
		return AgentDeveloper
	default:
		return AgentOther
	}
}
