package variant

import (
	"errors"
	"strings"
)

// Variant 是图片输出规格的封闭集合，贯穿缓存键与端点查表。
type Variant string

const (
	Thumbnail Variant = "thumbnail"
	Large     Variant = "large"
	// Generic 表示单端点模式下的唯一规格，路径中不出现规格段。
	Generic Variant = "generic"
)

// Parse 将路径首段映射为 Variant；generic 不允许从请求路径显式选择。
func Parse(raw string) (Variant, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(Thumbnail):
		return Thumbnail, true
	case string(Large):
		return Large, true
	default:
		return "", false
	}
}

// Mode 表示进程级的端点拓扑，在启动时根据配置确定一次。
type Mode string

const (
	// ModeGeneric 使用单一端点，origin URL 作为查询参数传递，端点自行抓取。
	ModeGeneric Mode = "generic"
	// ModePerVariant 为 thumbnail/large 配置独立端点，正文由本进程抓取后转发。
	ModePerVariant Mode = "per-variant"
)

// Table 保存 Variant 到上游端点的只读映射，构造后不再修改。
type Table struct {
	mode      Mode
	endpoints map[Variant]string
}

// NewTable 根据配置的端点构建查表。generic 与 per-variant 端点互斥，
// 两者都缺失视为配置错误（config.Validate 已挡掉，这里兜底）。
func NewTable(generic, thumbnail, large string) (*Table, error) {
	hasGeneric := generic != ""
	hasVariant := thumbnail != "" || large != ""

	switch {
	case hasGeneric && hasVariant:
		return nil, errors.New("generic and per-variant endpoints are mutually exclusive")
	case hasGeneric:
		return &Table{
			mode:      ModeGeneric,
			endpoints: map[Variant]string{Generic: generic},
		}, nil
	case hasVariant:
		endpoints := make(map[Variant]string, 2)
		if thumbnail != "" {
			endpoints[Thumbnail] = thumbnail
		}
		if large != "" {
			endpoints[Large] = large
		}
		return &Table{mode: ModePerVariant, endpoints: endpoints}, nil
	default:
		return nil, errors.New("no rescale endpoint configured")
	}
}

// Mode 返回启动时确定的端点拓扑。
func (t *Table) Mode() Mode {
	return t.mode
}

// Endpoint 返回指定 Variant 的端点；未配置时 ok 为 false。
func (t *Table) Endpoint(v Variant) (string, bool) {
	endpoint, ok := t.endpoints[v]
	return endpoint, ok
}

// Configured 返回已配置端点的 Variant 列表，按固定顺序输出供诊断端使用。
func (t *Table) Configured() []Variant {
	ordered := []Variant{Thumbnail, Large, Generic}
	result := make([]Variant, 0, len(t.endpoints))
	for _, v := range ordered {
		if _, ok := t.endpoints[v]; ok {
			result = append(result, v)
		}
	}
	return result
}

// String 实现 fmt.Stringer，日志字段直接输出小写名称。
func (v Variant) String() string {
	return string(v)
}

// Valid 报告 v 是否属于封闭集合。
func (v Variant) Valid() bool {
	switch v {
	case Thumbnail, Large, Generic:
		return true
	default:
		return false
	}
}

// EnvSuffix 返回原始部署脚本中环境变量使用的后缀写法，如 Thumbnail。
func (v Variant) EnvSuffix() string {
	if !v.Valid() {
		return ""
	}
	return strings.ToUpper(string(v[:1])) + string(v[1:])
}
