package engine

import (
	"fmt"
	"path/filepath"
	"strings"

	"testexec-platform/internal/shared/apperr"
	"testexec-platform/internal/shared/model"
)

// BuildCommand 按平台与脚本类型构造完整命令行
//
// Windows 下经 cmd.exe /c 执行，其余平台经 bash -c 执行。
func BuildCommand(goos string, scriptType model.ScriptType, endpoint model.EndpointType, path string) ([]string, error) {
	windows := goos == "windows"
	q := shellQuote
	if windows {
		q = cmdQuote
	}

	var line string
	switch scriptType.Normalize() {
	case model.ScriptTypePython:
		python := "python3"
		if windows {
			python = "python"
		}
		if endpoint == model.EndpointMiniApp {
			line = fmt.Sprintf("%s -m pytest %s -vs", python, q(path))
		} else {
			line = fmt.Sprintf("%s %s", python, q(path))
		}
	case model.ScriptTypeShell:
		line = "bash " + q(path)
	case model.ScriptTypeJS:
		line = "node " + q(path)
	case model.ScriptTypeJava:
		dir := filepath.Dir(path)
		class := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		line = fmt.Sprintf("javac -cp %s %s && java -cp %s %s", q(dir), q(path), q(dir), class)
	default:
		return nil, fmt.Errorf("%q: %w", scriptType, apperr.ErrUnsupportedScriptType)
	}

	if windows {
		return []string{"cmd.exe", "/c", line}, nil
	}
	return []string{"bash", "-c", line}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func cmdQuote(s string) string {
	return `"` + s + `"`
}
