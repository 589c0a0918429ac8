// 包 hover：编辑器光标与地图要素之间的悬停联动
package hover

import (
	"encoding/json"
	"sort"
	"strconv"
	"unicode"

	"mapedit/internal/featurekey"
)

// Range：features 数组中一个顶层对象在文本中的范围（rune 偏移，左闭右开）
type Range struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Key   string `json:"key"`
}

// 文档注释：扫描文本，定位根对象 features 数组内每个顶层对象
// 约束：
// - 跳过字符串字面量中的括号与引号（处理转义）
// - 只识别根对象上的 features 键；嵌套对象里的同名键忽略
// - 键按 featurekey.FromGeoJSON 计算，索引为数组中的元素位置；对象本身无法解析时退化为索引
// - 文本不完整时返回已闭合的范围
func ScanRanges(text string) []Range {
	rs := []rune(text)
	var (
		out        []Range
		depth      int
		inArray    bool
		arrayDepth int
		elem       int
		objStart   = -1
	)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch c {
		case '"':
			end := skipString(rs, i)
			if depth == 1 && !inArray && string(rs[i+1:max(end, i+1)]) == "features" {
				if j, ok := arrayAfterKey(rs, end+1); ok {
					inArray = true
					arrayDepth = depth + 1
					depth++
					i = j
					continue
				}
			}
			if end < 0 {
				return out
			}
			i = end
		case '{', '[':
			depth++
			if inArray && c == '{' && depth == arrayDepth+1 {
				objStart = i
			}
		case '}', ']':
			if inArray && c == '}' && depth == arrayDepth+1 && objStart >= 0 {
				out = append(out, Range{Start: objStart, End: i + 1, Key: keyFor(string(rs[objStart:i+1]), elem)})
				objStart = -1
			}
			if inArray && c == ']' && depth == arrayDepth {
				return out
			}
			depth--
		case ',':
			if inArray && depth == arrayDepth {
				elem++
			}
		}
	}
	return out
}

// skipString：返回与 rs[i] 处开引号配对的闭引号位置；未闭合返回 -1
func skipString(rs []rune, i int) int {
	for j := i + 1; j < len(rs); j++ {
		switch rs[j] {
		case '\\':
			j++
		case '"':
			return j
		}
	}
	return -1
}

// arrayAfterKey：键之后依次出现 ':' 与 '['，返回 '[' 的位置
func arrayAfterKey(rs []rune, i int) (int, bool) {
	i = skipSpace(rs, i)
	if i >= len(rs) || rs[i] != ':' {
		return 0, false
	}
	i = skipSpace(rs, i+1)
	if i >= len(rs) || rs[i] != '[' {
		return 0, false
	}
	return i, true
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return i
}

func keyFor(obj string, index int) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(obj), &m); err != nil {
		return strconv.Itoa(index)
	}
	return featurekey.FromGeoJSON(m, index)
}

// Lookup：偏移所在范围的键；不在任何范围内返回 nil
func Lookup(ranges []Range, offset int) *string {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].End > offset })
	if i < len(ranges) && ranges[i].Start <= offset {
		k := ranges[i].Key
		return &k
	}
	return nil
}
