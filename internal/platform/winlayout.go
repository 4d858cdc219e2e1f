package platform

import "strings"

type windowsPlatform struct{}

func (windowsPlatform) GOOS() string       { return "windows" }
func (windowsPlatform) DistOS() string     { return "win" }
func (windowsPlatform) ArchiveExt() string { return "zip" }

// Join is implemented by hand so windows paths are produced the same way
// whatever OS the code runs on.
func (windowsPlatform) Join(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		e = strings.ReplaceAll(e, "/", `\`)
		if e == "" {
			continue
		}
		if len(parts) > 0 {
			e = strings.TrimLeft(e, `\`)
		}
		if len(parts) > 0 && !strings.HasSuffix(parts[len(parts)-1], `\`) {
			parts = append(parts, `\`)
		}
		parts = append(parts, e)
	}
	return strings.Join(parts, "")
}

// ConfigBase is %APPDATA% only; without it the caller falls back to a
// relative directory.
func (windowsPlatform) ConfigBase(env Env) string {
	return env.get("APPDATA")
}

func (w windowsPlatform) NodeBinary(nodeDir string) string {
	return w.Join(nodeDir, "node.exe")
}

// SystemCommand wraps name in cmd.exe so .cmd shims on PATH resolve.
func (windowsPlatform) SystemCommand(name string) Command {
	return Command{Path: "cmd.exe", Args: []string{"/C", name}}
}

func (w windowsPlatform) PortableNpm(nodeDir string) Command {
	return Command{Path: w.Join(nodeDir, "npm.cmd")}
}

// PortableCLI: npm installs global bins at the prefix root on windows.
func (w windowsPlatform) PortableCLI(nodeDir, name string) (Command, Command) {
	direct := Command{Path: w.Join(nodeDir, name+".cmd")}
	fallback := Command{Path: w.Join(nodeDir, "npx.cmd"), Args: []string{name}, Fallback: true}
	return direct, fallback
}
