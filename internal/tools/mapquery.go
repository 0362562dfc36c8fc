package tools

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const defaultAmapBase = "https://restapi.amap.com"

var (
	routePattern  = regexp.MustCompile(`从(.+?)到(.+?)(?:怎么去|路线|路程|$)`)
	nearbyPattern = regexp.MustCompile(`(.+?)附近(?:有什么|哪里有|有啥)?$`)
)

// MapTool answers map.query with the Amap web service: walking routes for
// "从A到B", nearby places for "X附近", otherwise a geocode lookup.
type MapTool struct {
	base string
	key  string
	http *HTTPClient
}

// NewMapTool creates the tool; base may be empty for the public endpoint.
func NewMapTool(base, key string, hc *HTTPClient) *MapTool {
	return &MapTool{base: serviceBase(base, defaultAmapBase), key: key, http: hc}
}

func (t *MapTool) Name() string          { return MapQuery }
func (t *MapTool) ConcurrencySafe() bool { return true }

type amapGeocode struct {
	Geocodes []struct {
		FormattedAddress string `json:"formatted_address"`
		Location         string `json:"location"`
	} `json:"geocodes"`
}

type amapRoute struct {
	Route struct {
		Paths []struct {
			Distance string `json:"distance"`
			Duration string `json:"duration"`
		} `json:"paths"`
	} `json:"route"`
}

type amapPlaces struct {
	Pois []struct {
		Name    string `json:"name"`
		Address any    `json:"address"` // string, or [] when empty
	} `json:"pois"`
}

func (t *MapTool) Invoke(ctx context.Context, call Call) (Outcome, error) {
	if t.key == "" {
		return Outcome{}, &NotConfiguredError{What: "Amap key"}
	}
	text := strings.TrimSpace(call.Arg("text", call.Text))

	if m := routePattern.FindStringSubmatch(text); m != nil {
		return t.route(ctx, strings.TrimSpace(m[1]), strings.TrimSpace(m[2]))
	}
	if m := nearbyPattern.FindStringSubmatch(text); m != nil {
		keyword := strings.TrimSpace(m[1])
		if keyword == "" {
			keyword = "餐厅"
		}
		return t.nearby(ctx, keyword)
	}

	target := strings.NewReplacer("地图", "", "高德", "", "在哪里", "", "在哪", "").Replace(text)
	target = strings.Trim(target, " ？?。，,")
	if target == "" {
		return Outcome{}, nil
	}
	place, err := t.geocode(ctx, target)
	if err != nil {
		return Outcome{}, err
	}
	if place == nil {
		return Fact("地图查询: 地址解析失败。"), nil
	}
	return Fact("地点信息: %s，坐标 %s。", place.address, place.location), nil
}

type geoPoint struct {
	address  string
	location string
}

func (t *MapTool) geocode(ctx context.Context, address string) (*geoPoint, error) {
	var res amapGeocode
	if err := t.http.GetJSON(ctx, t.base+"/v3/geocode/geo", url.Values{
		"key":     {t.key},
		"address": {address},
	}, &res); err != nil {
		return nil, err
	}
	if len(res.Geocodes) == 0 {
		return nil, nil
	}
	g := res.Geocodes[0]
	return &geoPoint{address: g.FormattedAddress, location: g.Location}, nil
}

func (t *MapTool) route(ctx context.Context, from, to string) (Outcome, error) {
	origin, err := t.geocode(ctx, from)
	if err != nil {
		return Outcome{}, err
	}
	dest, err := t.geocode(ctx, to)
	if err != nil {
		return Outcome{}, err
	}
	if origin == nil || dest == nil {
		return Fact("地图查询: 起点或终点解析失败。"), nil
	}
	var res amapRoute
	if err := t.http.GetJSON(ctx, t.base+"/v3/direction/walking", url.Values{
		"key":         {t.key},
		"origin":      {origin.location},
		"destination": {dest.location},
	}, &res); err != nil {
		return Outcome{}, err
	}
	if len(res.Route.Paths) == 0 {
		return Fact("地图查询: 未获取到路线。"), nil
	}
	p := res.Route.Paths[0]
	return Fact("路线规划: %s -> %s，距离 %s 米，耗时 %s 秒。", from, to, p.Distance, p.Duration), nil
}

func (t *MapTool) nearby(ctx context.Context, keyword string) (Outcome, error) {
	const limit = 5
	var res amapPlaces
	if err := t.http.GetJSON(ctx, t.base+"/v3/place/text", url.Values{
		"key":      {t.key},
		"keywords": {keyword},
		"offset":   {strconv.Itoa(limit)},
		"page":     {"1"},
	}, &res); err != nil {
		return Outcome{}, err
	}
	if len(res.Pois) == 0 {
		return Fact("地图查询: 未找到周边结果。"), nil
	}
	var b strings.Builder
	b.WriteString("周边查询:")
	for i, p := range res.Pois {
		if i >= limit {
			break
		}
		addr, _ := p.Address.(string)
		fmt.Fprintf(&b, "\n- %s | %s", p.Name, addr)
	}
	return Outcome{Facts: []string{b.String()}}, nil
}
