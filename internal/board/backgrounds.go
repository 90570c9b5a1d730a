package board

import "github.com/lalith-99/capyboard/internal/models"

const DefaultBackgroundID = "default"

func src(path string) *string { return &path }

var catalog = []models.Background{
	{ID: "default", Label: "Default", Src: nil, TextColor: "#3f2b1d", Bounds: models.Bounds{X1: 40, Y1: 30, X2: 760, Y2: 450}},
	{ID: "beach", Label: "Beach", Src: src("/backgrounds/beach.jpg"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 300}},
	{ID: "fire", Label: "Fire", Src: src("/backgrounds/fire.gif"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 470}},
	{ID: "fruits", Label: "Fruits", Src: src("/backgrounds/fruits.gif"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 470}},
	{ID: "frances", Label: "Frances", Src: src("/backgrounds/frances.jpg"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 470}},
	{ID: "sleep", Label: "Sleep", Src: src("/backgrounds/sleep.jpg"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 470}},
	{ID: "night", Label: "Night", Src: src("/backgrounds/night.gif"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 470}},
	{ID: "tranquil", Label: "Tranquil", Src: src("/backgrounds/tranquil.gif"), TextColor: "#fff", Bounds: models.Bounds{X1: 10, Y1: 10, X2: 790, Y2: 250}},
}

// Backgrounds returns a copy of the fixed catalog, default first.
func Backgrounds() []models.Background {
	out := make([]models.Background, len(catalog))
	copy(out, catalog)
	return out
}

// NormalizeBackground maps unknown or empty ids to DefaultBackgroundID.
func NormalizeBackground(id string) string {
	for _, bg := range catalog {
		if bg.ID == id {
			return id
		}
	}
	return DefaultBackgroundID
}
