package pathhelper

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// 正则表达式用于匹配 Windows 盘符格式
var driveLetterPattern = regexp.MustCompile(`^[a-zA-Z]:[\\/]+`)

func RemoveDriveLetter(path string) string {
	if path == "" {
		return ""
	}
	return driveLetterPattern.ReplaceAllString(path, "")
}

func ConvertToLinuxPath(windowsPath string) string {
	// 将所有的反斜杠转换成正斜杠
	return strings.ReplaceAll(RemoveDriveLetter(windowsPath), "\\", "/")
}

// Basename 返回最后一个 / 之后的部分，没有 / 时原样返回
func Basename(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// DecodeURL 解码百分号转义，+ 保持不变；格式错误时原样返回
func DecodeURL(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// IsSubPath 检查 path 是否位于目录 dir 之下
func IsSubPath(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
