package config

import (
	"strings"

	"github.com/paulmach/orb"
)

// District is a city district together with its search slug on the site.
type District struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// City describes a supported city and how the site addresses it.
type City struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Voivodeship string     `json:"voivodeship"`
	Center      orb.Point  `json:"center"`
	Districts   []District `json:"districts"`
}

// SearchPath returns the location segment of a search URL, e.g.
// "mazowieckie/warszawa/warszawa/warszawa".
func (c City) SearchPath() string {
	return c.Voivodeship + "/" + c.Code + "/" + c.Code + "/" + c.Code
}

// SupportedCities lists the cities the refresh endpoint accepts.
// Points are lon/lat as orb expects.
var SupportedCities = []City{
	{
		Code:        "warszawa",
		Name:        "Warszawa",
		Voivodeship: "mazowieckie",
		Center:      orb.Point{21.0122, 52.2297},
		Districts: []District{
			{Name: "Mokotów", Slug: "mokotow"},
			{Name: "Śródmieście", Slug: "srodmiescie"},
			{Name: "Wola", Slug: "wola"},
			{Name: "Praga-Południe", Slug: "praga--poludnie"},
			{Name: "Ursynów", Slug: "ursynow"},
			{Name: "Bemowo", Slug: "bemowo"},
			{Name: "Bielany", Slug: "bielany"},
			{Name: "Targówek", Slug: "targowek"},
		},
	},
	{
		Code:        "krakow",
		Name:        "Kraków",
		Voivodeship: "malopolskie",
		Center:      orb.Point{19.9450, 50.0647},
		Districts: []District{
			{Name: "Stare Miasto", Slug: "stare-miasto"},
			{Name: "Krowodrza", Slug: "krowodrza"},
			{Name: "Podgórze", Slug: "podgorze"},
			{Name: "Nowa Huta", Slug: "nowa-huta"},
			{Name: "Dębniki", Slug: "debniki"},
		},
	},
	{
		Code:        "wroclaw",
		Name:        "Wrocław",
		Voivodeship: "dolnoslaskie",
		Center:      orb.Point{17.0385, 51.1079},
		Districts: []District{
			{Name: "Stare Miasto", Slug: "stare-miasto"},
			{Name: "Krzyki", Slug: "krzyki"},
			{Name: "Fabryczna", Slug: "fabryczna"},
			{Name: "Psie Pole", Slug: "psie-pole"},
			{Name: "Śródmieście", Slug: "srodmiescie"},
		},
	},
	{
		Code:        "gdansk",
		Name:        "Gdańsk",
		Voivodeship: "pomorskie",
		Center:      orb.Point{18.6466, 54.3520},
		Districts: []District{
			{Name: "Wrzeszcz", Slug: "wrzeszcz"},
			{Name: "Śródmieście", Slug: "srodmiescie"},
			{Name: "Oliwa", Slug: "oliwa"},
			{Name: "Przymorze", Slug: "przymorze"},
		},
	},
	{
		Code:        "poznan",
		Name:        "Poznań",
		Voivodeship: "wielkopolskie",
		Center:      orb.Point{16.9252, 52.4064},
		Districts: []District{
			{Name: "Stare Miasto", Slug: "stare-miasto"},
			{Name: "Jeżyce", Slug: "jezyce"},
			{Name: "Grunwald", Slug: "grunwald"},
			{Name: "Wilda", Slug: "wilda"},
		},
	},
}

// GetCityNames returns the codes of all supported cities.
func GetCityNames() []string {
	names := make([]string, len(SupportedCities))
	for i, city := range SupportedCities {
		names[i] = city.Code
	}
	return names
}

// GetCityByCode returns a city by its code, case-insensitively.
func GetCityByCode(code string) *City {
	code = strings.ToLower(strings.TrimSpace(code))
	for i := range SupportedCities {
		if SupportedCities[i].Code == code {
			return &SupportedCities[i]
		}
	}
	return nil
}

// FilterDistricts returns the city's districts whose name or slug is in
// wanted. An empty wanted list returns every district.
func (c City) FilterDistricts(wanted []string) []District {
	if len(wanted) == 0 {
		return c.Districts
	}
	set := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	var out []District
	for _, d := range c.Districts {
		_, byName := set[strings.ToLower(d.Name)]
		_, bySlug := set[d.Slug]
		if byName || bySlug {
			out = append(out, d)
		}
	}
	return out
}
