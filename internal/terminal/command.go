package terminal

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

const (
	defaultTerm = "xterm-256color"
	shellPath   = "/bin/sh"
	sniffLen    = 512
)

// resolveCommand locates argv[0] and, when wrap is set, rewrites a plain-text
// script without an interpreter line so that it runs under /bin/sh.
func resolveCommand(argv []string, wrap bool) (string, []string, error) {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return "", nil, err
	}
	if wrap && needsShell(path) {
		args := append([]string{shellPath, path}, argv[1:]...)
		return shellPath, args, nil
	}
	return path, append([]string(nil), argv...), nil
}

// needsShell reports whether path is a regular text file lacking "#!".
func needsShell(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false
	}
	head := buf[:n]
	if bytes.HasPrefix(head, []byte("#!")) || bytes.HasPrefix(head, []byte("\x7fELF")) {
		return false
	}
	return bytes.IndexByte(head, 0) < 0
}

// mergeEnv applies overrides on top of base and guarantees a TERM entry.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides)+1)
	hasTerm := false
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		if key == "TERM" {
			hasTerm = true
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "TERM" {
			hasTerm = true
		}
		env = append(env, k+"="+overrides[k])
	}

	if !hasTerm {
		env = append(env, "TERM="+defaultTerm)
	}
	return env
}
