package variant

import "testing"

func TestParseKnownVariants(t *testing.T) {
	testCases := []struct {
		raw  string
		want Variant
		ok   bool
	}{
		{"thumbnail", Thumbnail, true},
		{"large", Large, true},
		{"Thumbnail", Thumbnail, true},
		{" large ", Large, true},
		{"generic", "", false},
		{"medium", "", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		got, ok := Parse(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Parse(%q) = (%q, %t)，期望 (%q, %t)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestNewTablePerVariant(t *testing.T) {
	table, err := NewTable("", "https://resize.example/thumb", "https://resize.example/large")
	if err != nil {
		t.Fatalf("NewTable 返回错误: %v", err)
	}
	if table.Mode() != ModePerVariant {
		t.Fatalf("期望 per-variant 模式，得到 %s", table.Mode())
	}

	endpoint, ok := table.Endpoint(Thumbnail)
	if !ok || endpoint != "https://resize.example/thumb" {
		t.Fatalf("Thumbnail 端点查表结果有误: %q, %t", endpoint, ok)
	}
	if _, ok := table.Endpoint(Generic); ok {
		t.Fatalf("per-variant 模式不应存在 generic 端点")
	}
}

func TestNewTablePartialVariants(t *testing.T) {
	table, err := NewTable("", "https://resize.example/thumb", "")
	if err != nil {
		t.Fatalf("仅配置 thumbnail 应合法: %v", err)
	}
	if _, ok := table.Endpoint(Large); ok {
		t.Fatalf("未配置的 large 端点不应出现在查表中")
	}
	configured := table.Configured()
	if len(configured) != 1 || configured[0] != Thumbnail {
		t.Fatalf("Configured 应仅包含 thumbnail，得到 %v", configured)
	}
}

func TestNewTableGeneric(t *testing.T) {
	table, err := NewTable("https://resize.example/any", "", "")
	if err != nil {
		t.Fatalf("NewTable 返回错误: %v", err)
	}
	if table.Mode() != ModeGeneric {
		t.Fatalf("期望 generic 模式，得到 %s", table.Mode())
	}
	endpoint, ok := table.Endpoint(Generic)
	if !ok || endpoint != "https://resize.example/any" {
		t.Fatalf("generic 端点查表结果有误: %q, %t", endpoint, ok)
	}
}

func TestNewTableRejectsMixedModes(t *testing.T) {
	if _, err := NewTable("https://resize.example/any", "https://resize.example/thumb", ""); err == nil {
		t.Fatalf("generic 与 per-variant 端点混用应失败")
	}
}

func TestNewTableRequiresAtLeastOneEndpoint(t *testing.T) {
	if _, err := NewTable("", "", ""); err == nil {
		t.Fatalf("没有任何端点时应返回错误")
	}
}

func TestEnvSuffix(t *testing.T) {
	if got := Thumbnail.EnvSuffix(); got != "Thumbnail" {
		t.Fatalf("期望 Thumbnail，得到 %s", got)
	}
	if got := Variant("medium").EnvSuffix(); got != "" {
		t.Fatalf("非法 Variant 的 EnvSuffix 应为空，得到 %s", got)
	}
}
