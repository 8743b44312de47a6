package manifeststore

import "strings"

// escapeForShell prepares manifest content for embedding in a
// double-quoted shell string handed to printf '%b'. A content backslash
// crosses two interpreters: the shell's double-quote removal halves it,
// and %b consumes another level, so it must be quadrupled to come out
// as one. The replacement order matters: backslashes go first so the
// later replacements' own backslashes are not re-escaped.
func escapeForShell(content string) string {
	replacements := []struct {
		from, to string
	}{
		{`\`, `\\\\`},
		{`"`, `\"`},
		{`$`, `\$`},
		{"`", "\\`"},
		{"\n", `\n`},
	}
	for _, r := range replacements {
		content = strings.ReplaceAll(content, r.from, r.to)
	}
	return content
}

// guestPathFor maps a host-side temporary file path into the path form
// the image's shell understands. Drive-letter paths (hosts whose guests
// mount the host filesystem under /mnt) are translated; everything else
// passes through unchanged.
func guestPathFor(hostPath string) string {
	if len(hostPath) >= 3 && hostPath[1] == ':' && (hostPath[2] == '\\' || hostPath[2] == '/') {
		drive := strings.ToLower(hostPath[:1])
		rest := strings.ReplaceAll(hostPath[2:], `\`, `/`)
		return "/mnt/" + drive + rest
	}
	return hostPath
}
