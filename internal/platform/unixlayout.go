package platform

import "path"

type unixLayout struct{}

func (unixLayout) Join(elem ...string) string { return path.Join(elem...) }
func (unixLayout) ArchiveExt() string         { return "tar.gz" }

func (unixLayout) NodeBinary(nodeDir string) string {
	return path.Join(nodeDir, "bin", "node")
}

func (unixLayout) SystemCommand(name string) Command {
	return Command{Path: name}
}

func (unixLayout) PortableNpm(nodeDir string) Command {
	return Command{Path: path.Join(nodeDir, "bin", "npm")}
}

func (unixLayout) PortableCLI(nodeDir, name string) (Command, Command) {
	direct := Command{Path: path.Join(nodeDir, "bin", name)}
	fallback := Command{Path: path.Join(nodeDir, "bin", "npx"), Args: []string{name}, Fallback: true}
	return direct, fallback
}

type linuxPlatform struct{ unixLayout }

func (linuxPlatform) GOOS() string   { return "linux" }
func (linuxPlatform) DistOS() string { return "linux" }

func (linuxPlatform) ConfigBase(env Env) string {
	if xdg := env.get("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	if home, ok := env.home(); ok {
		return path.Join(home, ".config")
	}
	return ""
}

type darwinPlatform struct{ unixLayout }

func (darwinPlatform) GOOS() string   { return "darwin" }
func (darwinPlatform) DistOS() string { return "darwin" }

func (darwinPlatform) ConfigBase(env Env) string {
	if home, ok := env.home(); ok {
		return path.Join(home, "Library", "Application Support")
	}
	return ""
}

// genericPlatform covers unix-likes without a dedicated config rule. Node
// publishes no builds for most of them; the linux tarball is the closest.
type genericPlatform struct {
	unixLayout
	goos string
}

func (g genericPlatform) GOOS() string        { return g.goos }
func (genericPlatform) DistOS() string        { return "linux" }
func (genericPlatform) ConfigBase(Env) string { return "" }
