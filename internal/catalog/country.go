package catalog

import "strings"

var countries = map[string]string{
	"AD": "Andorra", "AE": "United Arab Emirates", "AL": "Albania", "AM": "Armenia",
	"AR": "Argentina", "AT": "Austria", "AU": "Australia", "AZ": "Azerbaijan",
	"BA": "Bosnia and Herzegovina", "BD": "Bangladesh", "BE": "Belgium", "BG": "Bulgaria",
	"BR": "Brazil", "BY": "Belarus", "CA": "Canada", "CH": "Switzerland",
	"CL": "Chile", "CN": "China", "CO": "Colombia", "CR": "Costa Rica",
	"CY": "Cyprus", "CZ": "Czechia", "DE": "Germany", "DK": "Denmark",
	"DZ": "Algeria", "EC": "Ecuador", "EE": "Estonia", "EG": "Egypt",
	"ES": "Spain", "FI": "Finland", "FR": "France", "GE": "Georgia",
	"GR": "Greece", "HK": "Hong Kong", "HR": "Croatia", "HU": "Hungary",
	"ID": "Indonesia", "IE": "Ireland", "IL": "Israel", "IN": "India",
	"IS": "Iceland", "IT": "Italy", "JP": "Japan", "KE": "Kenya",
	"KH": "Cambodia", "KR": "South Korea", "KZ": "Kazakhstan", "LT": "Lithuania",
	"LU": "Luxembourg", "LV": "Latvia", "MA": "Morocco", "MD": "Moldova",
	"MK": "North Macedonia", "MT": "Malta", "MX": "Mexico", "MY": "Malaysia",
	"NG": "Nigeria", "NL": "Netherlands", "NO": "Norway", "NZ": "New Zealand",
	"PE": "Peru", "PH": "Philippines", "PK": "Pakistan", "PL": "Poland",
	"PR": "Puerto Rico", "PT": "Portugal", "RO": "Romania", "RS": "Serbia",
	"RU": "Russia", "SE": "Sweden", "SG": "Singapore", "SI": "Slovenia",
	"SK": "Slovakia", "TH": "Thailand", "TR": "Turkey", "TW": "Taiwan",
	"UA": "Ukraine", "UK": "United Kingdom", "GB": "United Kingdom", "US": "United States",
	"VE": "Venezuela", "VN": "Vietnam", "ZA": "South Africa",
}

// CountryName returns the English name of an ISO country code
// Unknown codes are returned unchanged
func CountryName(code string) string {
	if name, ok := countries[strings.ToUpper(code)]; ok {
		return name
	}
	return code
}
