package listing

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CategoryCode is the closed set of detail-page categories.
type CategoryCode string

const (
	CategoryNewBuild   CategoryCode = "new_build"
	CategoryOldBuild   CategoryCode = "old_build"
	CategoryCommercial CategoryCode = "commercial"
	CategoryOffice     CategoryCode = "office"
	CategoryGarage     CategoryCode = "garage"
	CategoryLand       CategoryCode = "land"
	CategoryHouse      CategoryCode = "house"
	CategoryApartment  CategoryCode = "apartment"
	CategoryUnknown    CategoryCode = "unknown"
)

// Category is the resolved enrichment attribute of a listing. Label keeps the
// upstream text verbatim, including for CategoryUnknown.
type Category struct {
	Code  CategoryCode `json:"code"`
	Label string       `json:"label"`
}

// categoryLabelName is the property row that carries the category on a
// detail page.
const categoryLabelName = "Kateqoriya"

// maxCategoryLabelLen guards against grabbing a whole text block when the
// page markup is broken.
const maxCategoryLabelLen = 100

// categoryRowPattern matches the property row in markup goquery cannot
// attach siblings for (e.g. truncated documents).
var categoryRowPattern = regexp.MustCompile(
	`(?s)product-properties__i-name">\s*` + categoryLabelName + `\s*</label>\s*<span class="product-properties__i-value">(.*?)</span>`)

var categoryLabels = map[string]CategoryCode{
	"yeni tikili":  CategoryNewBuild,
	"köhnə tikili": CategoryOldBuild,
	"obyekt":       CategoryCommercial,
	"ofis":         CategoryOffice,
	"qaraj":        CategoryGarage,
	"torpaq":       CategoryLand,
	"həyət evi":    CategoryHouse,
	"bağ evi":      CategoryHouse,
	"villa":        CategoryHouse,
	"apartament":   CategoryApartment,
}

// ClassifyCategory maps category text to a known code. Text that is present
// but not recognised yields CategoryUnknown; empty text yields "".
func ClassifyCategory(label string) CategoryCode {
	key := fold(label)
	if key == "" {
		return ""
	}
	if code, ok := categoryLabels[key]; ok {
		return code
	}
	return CategoryUnknown
}

// ExtractCategoryLabel finds the "Kateqoriya" property value in detail page
// HTML. ok is false when the row is missing or its value is unusable.
func ExtractCategoryLabel(html string) (label string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	doc.Find(".product-properties__i-name").EachWithBreak(func(_ int, name *goquery.Selection) bool {
		if strings.TrimSpace(name.Text()) != categoryLabelName {
			return true
		}
		value := name.Siblings().Filter(".product-properties__i-value").First()
		label = strings.TrimSpace(value.Text())
		return false
	})

	if label == "" {
		if m := categoryRowPattern.FindStringSubmatch(html); m != nil {
			label = strings.TrimSpace(m[1])
		}
	}

	if label == "" || len([]rune(label)) >= maxCategoryLabelLen {
		return "", false
	}
	return label, true
}

// CategoryFromHTML combines extraction and classification. It returns nil
// when the page carries no category.
func CategoryFromHTML(html string) *Category {
	label, ok := ExtractCategoryLabel(html)
	if !ok {
		return nil
	}
	return &Category{Code: ClassifyCategory(label), Label: label}
}
