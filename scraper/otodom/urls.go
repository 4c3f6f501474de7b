package otodom

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"otodom-stats/config"
	"otodom-stats/models"
)

// resultsPerPage is the largest page size the search accepts.
const resultsPerPage = 72

var roomsParam = map[models.RoomType]string{
	models.RoomsOne:      "[ONE]",
	models.RoomsTwo:      "[TWO]",
	models.RoomsThree:    "[THREE]",
	models.RoomsFourPlus: "[FOUR,FIVE,SIX,SEVEN,EIGHT,NINE,TEN,MORE]",
}

// SearchURL builds the sale-listing search URL for a target, e.g.
// https://www.otodom.pl/pl/wyniki/sprzedaz/mieszkanie/mazowieckie/warszawa/warszawa/warszawa/mokotow?limit=72&page=1&roomsNumber=%5BTWO%5D
func SearchURL(base string, city config.City, target models.TargetDescriptor, page int) (string, error) {
	rooms, ok := roomsParam[target.RoomType]
	if !ok {
		return "", fmt.Errorf("otodom: no search parameter for room type %q", target.RoomType)
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("otodom: parse base url: %w", err)
	}
	u.Path = "/pl/wyniki/sprzedaz/mieszkanie/" + city.SearchPath() + "/" + target.DistrictSlug

	q := url.Values{}
	q.Set("roomsNumber", rooms)
	q.Set("limit", strconv.Itoa(resultsPerPage))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CandidateURLs lists first-page URLs in the order they are tried. The
// second form omits the page size and is served by an older route.
func CandidateURLs(base string, city config.City, target models.TargetDescriptor) ([]string, error) {
	primary, err := SearchURL(base, city, target, 1)
	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(primary)
	q := u.Query()
	q.Del("limit")
	q.Del("page")
	u.RawQuery = q.Encode()

	legacy := *u
	legacy.Path = "/pl/oferty/sprzedaz/mieszkanie/" + city.Code + "/" + target.DistrictSlug

	return []string{primary, u.String(), legacy.String()}, nil
}
