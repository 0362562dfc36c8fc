package tools

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const defaultCity = "北京"

var cityPattern = regexp.MustCompile(`([^\s，。！？,.!?]{2,10})(?:天气|气温)`)

// Leading and trailing filler words that the city pattern tends to capture.
var cityFillers = []string{
	"帮我", "请", "给我", "告诉我", "我想知道", "想知道", "查一下", "查询", "查查",
	"看看", "看一下", "一下", "现在", "今天", "明天", "后天", "的",
}

// CityFromText extracts the city a weather question is about, defaulting to
// Beijing.
func CityFromText(text string) string {
	m := cityPattern.FindStringSubmatch(text)
	if m == nil {
		return defaultCity
	}
	city := m[1]
	for changed := true; changed; {
		changed = false
		for _, f := range cityFillers {
			if strings.HasPrefix(city, f) {
				city = strings.TrimPrefix(city, f)
				changed = true
			}
			if strings.HasSuffix(city, f) {
				city = strings.TrimSuffix(city, f)
				changed = true
			}
		}
	}
	if utf8.RuneCountInString(city) < 2 {
		return defaultCity
	}
	return city
}

// WeatherTool answers weather.query through the QWeather API.
type WeatherTool struct {
	base string
	key  string
	http *HTTPClient
}

// NewWeatherTool creates the tool. host may be a bare QWeather API host or a
// full base URL.
func NewWeatherTool(host, key string, hc *HTTPClient) *WeatherTool {
	base := ""
	if host != "" {
		base = serviceBase(host, "")
	}
	return &WeatherTool{base: base, key: key, http: hc}
}

func (t *WeatherTool) Name() string          { return WeatherQuery }
func (t *WeatherTool) ConcurrencySafe() bool { return true }

type qweatherLookup struct {
	Code     string `json:"code"`
	Location []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
}

type qweatherNow struct {
	Code string `json:"code"`
	Now  struct {
		Text      string `json:"text"`
		Temp      string `json:"temp"`
		FeelsLike string `json:"feelsLike"`
		Humidity  string `json:"humidity"`
		WindDir   string `json:"windDir"`
	} `json:"now"`
}

func (t *WeatherTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.base == "" || t.key == "" {
		return Outcome{}, &NotConfiguredError{What: "QWeather host/key"}
	}
	city := CityFromText(call.Arg("text", call.Text))

	var lookup qweatherLookup
	if err := t.http.GetJSON(ctx, t.base+"/geo/v2/city/lookup", url.Values{
		"location": {city},
		"key":      {t.key},
	}, &lookup); err != nil {
		return Outcome{}, err
	}
	if lookup.Code != "200" || len(lookup.Location) == 0 {
		return Fact("天气查询: 未找到 %s 的天气。", city), nil
	}
	loc := lookup.Location[0]

	var now qweatherNow
	if err := t.http.GetJSON(ctx, t.base+"/v7/weather/now", url.Values{
		"location": {loc.ID},
		"key":      {t.key},
	}, &now); err != nil {
		return Outcome{}, err
	}
	if now.Code != "200" {
		return Fact("天气查询: 未找到 %s 的天气。", city), nil
	}
	return Fact("天气: %s%s %s，%sC，体感 %sC，湿度 %s%%。",
		loc.Country, loc.Name, now.Now.Text, now.Now.Temp, now.Now.FeelsLike, now.Now.Humidity), nil
}
