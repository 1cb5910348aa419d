package export

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultRulesOrder(t *testing.T) {
	t.Parallel()

	got := DefaultRules().Categories()
	want := []string{"市委教委", "中小学", "高校", "其他社会新闻"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
}

func TestClassifyFirstRuleWins(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "both keywords", text: "市委教委部署高校毕业生就业工作", want: "市委教委"},
		{name: "school", text: "全市中小学开学", want: "中小学"},
		{name: "university", text: "多所高校联合办赛", want: "高校"},
		{name: "none", text: "城市公园新增步道", want: "其他社会新闻"},
	}
	for _, tc := range cases {
		if got := rules.Classify("", tc.text); got != tc.want {
			t.Fatalf("%s: Classify = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]byte("default: misc\nrules:\n  - category: exams\n    keywords: [\" EXAM \"]\n"))
	if err != nil {
		t.Fatalf("ParseRules: %v", err)
	}
	if got := rules.Classify("Final Exam Timetable"); got != "exams" {
		t.Fatalf("Classify = %q, want exams", got)
	}
	if got := rules.Classify("weather"); got != "misc" {
		t.Fatalf("Classify = %q, want misc", got)
	}
}

func TestParseRulesRejectsBadFiles(t *testing.T) {
	t.Parallel()

	bad := map[string]string{
		"no default":    "rules:\n  - category: a\n    keywords: [x]\n",
		"no rules":      "default: misc\n",
		"empty keyword": "default: misc\nrules:\n  - category: a\n    keywords: [\" \"]\n",
		"duplicate":     "default: misc\nrules:\n  - category: a\n    keywords: [x]\n  - category: a\n    keywords: [y]\n",
		"not yaml":      "default: [",
	}
	for name, raw := range bad {
		if _, err := ParseRules([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadRulesFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "default: 其他\nrules:\n  - category: 高校\n    keywords: [大学]\n  - category: 中小学\n    keywords: [小学]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if got := rules.Categories(); !reflect.DeepEqual(got, []string{"高校", "中小学", "其他"}) {
		t.Fatalf("categories = %v", got)
	}

	if _, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if rules, err := LoadRules(""); err != nil || rules.Default != "其他社会新闻" {
		t.Fatalf("LoadRules(\"\") = %+v, %v", rules, err)
	}
}

func TestTaggedPath(t *testing.T) {
	t.Parallel()

	cases := map[[2]string]string{
		{"report.txt", "T"}:           "report_T.txt",
		{"out/report.txt", "2026-05"}: "out/report_2026-05.txt",
		{"report", "T"}:               "report_T",
		{"report.txt", ""}:            "report.txt",
		{"report.txt", "a/b"}:         "report_a-b.txt",
	}
	for in, want := range cases {
		if got := TaggedPath(in[0], in[1]); got != want {
			t.Fatalf("TaggedPath(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
