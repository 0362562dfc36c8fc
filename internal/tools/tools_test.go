package tools

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/makobot/mako/internal/affinity"
	"github.com/makobot/mako/internal/config"
	"github.com/makobot/mako/internal/kv"
	"github.com/makobot/mako/internal/notes"
)

func TestRegistryUnsupported(t *testing.T) {
	r := NewRegistry()
	r.Register(DetectTool{})

	if _, ok := r.Get(LanguageDetect); !ok {
		t.Fatal("expected detect tool to be registered")
	}
	out, err := r.Invoke(context.Background(), Call{Name: "nope"})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if len(out.Diagnostics) != 1 || out.Diagnostics[0] != "[nope] unsupported tool." {
		t.Fatalf("unexpected diagnostics: %v", out.Diagnostics)
	}
}

func TestDefaultRegistryCoversIntentNames(t *testing.T) {
	cfg := config.DefaultConfig()
	r := NewDefaultRegistry(cfg, Deps{Affinity: affinity.NewService(kv.NewLocalStore(), affinity.Config{Max: 100, Initial: 50})})
	names := []string{
		ImageDescribe, ImageGenerate, ImageProcess, LanguageTranslate, LanguageDetect,
		LanguageTTS, LanguageSTT, AffinityQuery, EmojiAnalyze, FoodPick, NoteAdd, NoteQuery,
		NoteDelete, NoteUpdate, MapQuery, WeatherQuery, SearchWeb, SearchSummarizeURL,
	}
	for _, n := range names {
		if _, ok := r.Get(n); !ok {
			t.Errorf("tool %s not registered", n)
		}
	}

	safe := map[string]bool{
		ImageDescribe: true, LanguageDetect: true, AffinityQuery: true, EmojiAnalyze: true, FoodPick: true,
		WeatherQuery: true, SearchWeb: true, SearchSummarizeURL: true, MapQuery: true,
	}
	for _, n := range names {
		tool, _ := r.Get(n)
		if got := IsConcurrencySafe(tool); got != safe[n] {
			t.Errorf("%s concurrency safe = %v, want %v", n, got, safe[n])
		}
	}
}

func TestUnconfiguredProviders(t *testing.T) {
	r := NewDefaultRegistry(config.DefaultConfig(), Deps{})
	for _, n := range []string{WeatherQuery, SearchWeb, MapQuery, LanguageTranslate, ImageGenerate, NoteAdd} {
		_, err := r.Invoke(context.Background(), Call{Name: n, Text: "x"})
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%s: expected ErrNotConfigured, got %v", n, err)
		}
	}
}

func TestRequirements(t *testing.T) {
	r := NewDefaultRegistry(config.DefaultConfig(), Deps{})
	cases := []struct {
		name string
		call Call
		want string
	}{
		{ImageDescribe, Call{}, "requires image input"},
		{ImageDescribe, Call{ImageURLs: []string{"http://x/a.png"}}, ""},
		{ImageProcess, Call{}, "requires image input"},
		{LanguageSTT, Call{}, "requires audio input"},
		{SearchSummarizeURL, Call{Args: map[string]string{"url": "ftp://x"}}, "requires a valid url"},
		{SearchSummarizeURL, Call{Args: map[string]string{"url": "https://example.com/a"}}, ""},
		{WeatherQuery, Call{}, ""},
	}
	for _, tc := range cases {
		tool, _ := r.Get(tc.name)
		if got := Requirement(tool, tc.call); got != tc.want {
			t.Errorf("%s requirement = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCityFromText(t *testing.T) {
	cases := map[string]string{
		"帮我查一下上海天气": "上海",
		"杭州天气怎么样":   "杭州",
		"明天广州的天气":   "广州",
		"天气":        "北京",
		"今天气温":      "北京",
	}
	for in, want := range cases {
		if got := CityFromText(in); got != want {
			t.Errorf("CityFromText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWeatherTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/geo/v2/city/lookup":
			if r.URL.Query().Get("location") != "上海" {
				w.Write([]byte(`{"code":"404","location":[]}`))
				return
			}
			w.Write([]byte(`{"code":"200","location":[{"id":"101020100","name":"上海","country":"中国"}]}`))
		case "/v7/weather/now":
			w.Write([]byte(`{"code":"200","now":{"text":"多云","temp":"22","feelsLike":"21","humidity":"60"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tool := NewWeatherTool(srv.URL, "k", NewHTTPClient(5*time.Second, 0))
	out, err := tool.Invoke(context.Background(), Call{Name: WeatherQuery, Text: "帮我查一下上海天气"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := "天气: 中国上海 多云，22C，体感 21C，湿度 60%。"
	if len(out.Facts) != 1 || out.Facts[0] != want {
		t.Fatalf("facts = %v, want %q", out.Facts, want)
	}

	out, err = tool.Invoke(context.Background(), Call{Name: WeatherQuery, Text: "火星天气"})
	if err != nil || out.Facts[0] != "天气查询: 未找到 火星 的天气。" {
		t.Fatalf("unexpected miss outcome: %v %v", out.Facts, err)
	}

	bad := NewWeatherTool(srv.URL, "wrong", NewHTTPClient(5*time.Second, 0))
	if _, err := bad.Invoke(context.Background(), Call{Text: "上海天气"}); !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
}

func TestSearchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/customsearch/v1" || r.URL.Query().Get("q") != "golang" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"items":[{"title":"The Go Programming Language","link":"https://go.dev","snippet":"Go is open source"},{"title":"","link":"https://x","snippet":"s"}]}`))
	}))
	defer srv.Close()

	tool := NewSearchTool(srv.URL, "k", "cx", 5, NewHTTPClient(5*time.Second, 0))
	out, err := tool.Invoke(context.Background(), Call{Args: map[string]string{"query": "golang"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	fact := out.Facts[0]
	if !strings.HasPrefix(fact, "Google 搜索结果:") || !strings.Contains(fact, "https://go.dev") || !strings.Contains(fact, "Untitled") {
		t.Fatalf("unexpected fact: %q", fact)
	}
}

func TestMapRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v3/geocode/geo":
			loc := "116.1,39.9"
			if r.URL.Query().Get("address") == "天安门" {
				loc = "116.2,39.8"
			}
			w.Write([]byte(`{"geocodes":[{"formatted_address":"北京市","location":"` + loc + `"}]}`))
		case "/v3/direction/walking":
			w.Write([]byte(`{"route":{"paths":[{"distance":"1200","duration":"900"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tool := NewMapTool(srv.URL, "k", NewHTTPClient(5*time.Second, 0))
	out, err := tool.Invoke(context.Background(), Call{Text: "从故宫到天安门怎么去"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Facts[0] != "路线规划: 故宫 -> 天安门，距离 1200 米，耗时 900 秒。" {
		t.Fatalf("unexpected fact: %q", out.Facts[0])
	}
}

func TestSummarizeURLFallback(t *testing.T) {
	page := `<html><head><title>t</title><script>var x=1;</script></head><body><p>` +
		strings.Repeat("Mako keeps track of follow ups. ", 20) + `</p></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	tool := NewSummarizeURLTool(NewHTTPClient(5*time.Second, 0), nil)
	out, err := tool.Invoke(context.Background(), Call{Args: map[string]string{"url": srv.URL + "/post"}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	fact := out.Facts[0]
	if !strings.HasPrefix(fact, "链接总结（"+srv.URL+"/post）: ") || !strings.Contains(fact, "Mako keeps track") {
		t.Fatalf("unexpected fact: %q", fact)
	}
	if strings.Contains(fact, "var x") {
		t.Fatalf("script leaked into summary: %q", fact)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"你好世界":        "zh",
		"hello world": "en",
		"こんにちは":       "ja",
		"안녕하세요":       "ko",
		"12345":       "unknown",
	}
	for in, want := range cases {
		if got := DetectLanguage(in); got != want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnalyzeEmoji(t *testing.T) {
	a := AnalyzeEmoji([]int{14, 66}, "哈哈")
	if a.Delta != 4 || a.Sentiment != "positive" || len(a.Labels) != 3 {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	a = AnalyzeEmoji([]int{39}, "")
	if a.Sentiment != "negative" {
		t.Fatalf("expected negative, got %+v", a)
	}
	if a := AnalyzeEmoji(nil, "嗯"); a.Sentiment != "neutral" || a.Delta != 0 {
		t.Fatalf("expected neutral, got %+v", a)
	}
}

func TestEmojiToolAdjustsAffinity(t *testing.T) {
	svc := affinity.NewService(kv.NewLocalStore(), affinity.Config{Min: 0, Max: 100, Initial: 50, DailyCap: 20})
	tool := NewEmojiTool(svc)
	out, err := tool.Invoke(context.Background(), Call{UserID: "u1", FaceIDs: []int{50}})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Facts[0] != "表情识别: 大笑，情绪=positive，好感度=52" {
		t.Fatalf("unexpected fact: %q", out.Facts[0])
	}
	out, _ = NewAffinityTool(svc).Invoke(context.Background(), Call{UserID: "u1"})
	if out.Facts[0] != "当前好感度: 52 (普通)" {
		t.Fatalf("unexpected affinity fact: %q", out.Facts[0])
	}
}

func testImage(alpha bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			a := uint8(255)
			if alpha && x == 0 {
				a = 10
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 30), G: 200, B: uint8(y * 40), A: a})
		}
	}
	var buf bytes.Buffer
	if alpha {
		png.Encode(&buf, img)
	} else {
		jpeg.Encode(&buf, img, nil)
	}
	return buf.Bytes()
}

func TestProcessImage(t *testing.T) {
	out, ext, err := ProcessImage(testImage(false), "resize", "4x3")
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if ext != ".jpg" {
		t.Fatalf("expected jpeg output, got %s", ext)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Fatalf("unexpected size %v", b)
	}

	out, ext, err = ProcessImage(testImage(true), "grayscale", "")
	if err != nil || ext != ".png" {
		t.Fatalf("grayscale: ext=%s err=%v", ext, err)
	}
	img, _ = png.Decode(bytes.NewReader(out))
	r, g, b, _ := img.At(3, 3).RGBA()
	if r != g || g != b {
		t.Fatalf("pixel not gray: %d %d %d", r, g, b)
	}

	if _, _, err := ProcessImage(testImage(false), "blur", ""); err != nil {
		t.Fatalf("blur: %v", err)
	}
	if _, _, err := ProcessImage([]byte("not an image"), "blur", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNoteTools(t *testing.T) {
	store := &memNotes{}
	r := NewRegistry()
	for _, tool := range NewNoteTools(store) {
		r.Register(tool)
	}
	ctx := context.Background()

	out, err := r.Invoke(ctx, Call{Name: NoteQuery, UserID: "u1"})
	if err != nil || out.Facts[0] != "笔记查询: 没有匹配内容。" {
		t.Fatalf("empty query: %v %v", out.Facts, err)
	}
	out, _ = r.Invoke(ctx, Call{Name: NoteAdd, UserID: "u1", Args: map[string]string{"title": "购物", "content": "买牛奶"}})
	if out.Facts[0] != "笔记已记录: n1《购物》" {
		t.Fatalf("add: %v", out.Facts)
	}
	out, _ = r.Invoke(ctx, Call{Name: NoteQuery, UserID: "u1", Args: map[string]string{"keyword": "牛奶"}})
	if out.Facts[0] != "笔记查询结果:\n- n1 | 购物 | 买牛奶" {
		t.Fatalf("query: %q", out.Facts[0])
	}
	out, _ = r.Invoke(ctx, Call{Name: NoteUpdate, UserID: "u1", Args: map[string]string{"keyword": "购物", "content": "买酸奶"}})
	if out.Facts[0] != "笔记更新成功: n1《购物》" {
		t.Fatalf("update: %v", out.Facts)
	}
	out, _ = r.Invoke(ctx, Call{Name: NoteDelete, UserID: "u1", Args: map[string]string{"keyword": "不存在"}})
	if out.Facts[0] != "笔记删除失败: 未找到目标。" {
		t.Fatalf("delete miss: %v", out.Facts)
	}
	out, _ = r.Invoke(ctx, Call{Name: NoteDelete, UserID: "u1", Args: map[string]string{"keyword": "n1"}})
	if out.Facts[0] != "笔记删除成功。" {
		t.Fatalf("delete: %v", out.Facts)
	}
}

// memNotes is a minimal in-memory NoteStore.
type memNotes struct {
	items []notes.Note
}

func (m *memNotes) Add(_ context.Context, userID, title, content, category string) (*notes.Note, error) {
	n := notes.Note{ID: "n" + string(rune('0'+len(m.items)+1)), UserID: userID, Title: title, Content: content, Category: category}
	m.items = append(m.items, n)
	return &n, nil
}

func (m *memNotes) List(_ context.Context, userID string) ([]notes.Note, error) {
	var out []notes.Note
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotes) Search(ctx context.Context, userID, keyword string) ([]notes.Note, error) {
	all, _ := m.List(ctx, userID)
	var out []notes.Note
	for _, n := range all {
		if strings.Contains(n.Title, keyword) || strings.Contains(n.Content, keyword) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotes) Delete(_ context.Context, userID, ref string) (bool, error) {
	for i, n := range m.items {
		if n.UserID == userID && (n.ID == ref || strings.Contains(n.Title, ref)) {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memNotes) Update(_ context.Context, userID, ref, content string) (*notes.Note, error) {
	for i, n := range m.items {
		if n.UserID == userID && (n.ID == ref || strings.Contains(n.Title, ref)) {
			m.items[i].Content = content
			return &m.items[i], nil
		}
	}
	return nil, nil
}

func TestFoodPick(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFoodTool(func(n int) int { return n - 1 }))
	out, err := r.Invoke(context.Background(), Call{Name: FoodPick})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(out.Facts) != 1 || out.Facts[0] != "今日推荐: 轻食沙拉" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
