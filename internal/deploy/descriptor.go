// Package deploy inspects the container build descriptor that ships with the
// repository. The doctor command uses it to catch drift between the image
// definition and the runtime contract: the listener must bind 0.0.0.0 on the
// PORT the image advertises, and the media tools must be installed.
package deploy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultPort is the listener port baked into the stock image.
const DefaultPort = 5000

// Descriptor captures the runtime-relevant facts of a Dockerfile.
type Descriptor struct {
	BaseImage    string
	EnvPort      int
	ExposedPorts []int
	BindHost     string
	BindPort     string
	Packages     []string
	Command      []string

	// CopiesFullContext is set when a COPY instruction pulls in the entire
	// build context with no source filter.
	CopiesFullContext bool
}

// ParseFile reads and parses a Dockerfile from disk.
func ParseFile(path string) (*Descriptor, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open descriptor: %w", err)
	}
	defer file.Close()
	desc, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return desc, nil
}

// Parse parses Dockerfile text into a Descriptor. Only the instructions the
// runtime contract depends on are interpreted; everything else is ignored.
func Parse(r io.Reader) (*Descriptor, error) {
	desc := &Descriptor{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	var pending strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(line)
		instruction := pending.String()
		pending.Reset()
		if err := desc.apply(instruction); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	if pending.Len() > 0 {
		if err := desc.apply(pending.String()); err != nil {
			return nil, err
		}
	}
	return desc, nil
}

func (d *Descriptor) apply(instruction string) error {
	keyword, rest, _ := strings.Cut(instruction, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToUpper(keyword) {
	case "FROM":
		// The final stage determines the runtime image.
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			d.BaseImage = fields[0]
		}
	case "ENV":
		d.applyEnv(rest)
	case "EXPOSE":
		for _, field := range strings.Fields(rest) {
			portStr, _, _ := strings.Cut(field, "/")
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("invalid EXPOSE port %q", field)
			}
			d.ExposedPorts = append(d.ExposedPorts, port)
		}
	case "RUN":
		d.applyRun(rest)
	case "COPY", "ADD":
		fields := strings.Fields(rest)
		if len(fields) >= 2 && fields[0] == "." {
			d.CopiesFullContext = true
		}
	case "CMD", "ENTRYPOINT":
		command, err := parseCommand(rest)
		if err != nil {
			return err
		}
		d.Command = command
		d.applyBind(command)
	}
	return nil
}

func (d *Descriptor) applyEnv(rest string) {
	// Both "ENV PORT=5000" and the legacy "ENV PORT 5000" spelling occur in
	// the wild.
	fields := strings.Fields(rest)
	for i := 0; i < len(fields); i++ {
		key, value, found := strings.Cut(fields[i], "=")
		if !found {
			if i+1 < len(fields) {
				key, value = fields[i], fields[i+1]
				i++
			} else {
				continue
			}
		}
		if key != "PORT" {
			continue
		}
		if port, err := strconv.Atoi(strings.Trim(value, `"'`)); err == nil {
			d.EnvPort = port
		}
	}
}

func (d *Descriptor) applyRun(rest string) {
	for _, segment := range strings.Split(rest, "&&") {
		fields := strings.Fields(segment)
		installAt := -1
		for i, field := range fields {
			if field == "install" || field == "add" {
				installAt = i
				break
			}
		}
		if installAt < 0 {
			continue
		}
		for _, field := range fields[installAt+1:] {
			if strings.HasPrefix(field, "-") {
				continue
			}
			d.Packages = append(d.Packages, field)
		}
	}
}

func (d *Descriptor) applyBind(command []string) {
	for i, arg := range command {
		var value string
		switch {
		case arg == "--bind" && i+1 < len(command):
			value = command[i+1]
		case strings.HasPrefix(arg, "--bind="):
			value = strings.TrimPrefix(arg, "--bind=")
		default:
			continue
		}
		if host, port, err := net.SplitHostPort(value); err == nil {
			d.BindHost = host
			d.BindPort = port
		}
		return
	}
}

func parseCommand(rest string) ([]string, error) {
	if strings.HasPrefix(rest, "[") {
		var command []string
		if err := json.Unmarshal([]byte(rest), &command); err != nil {
			return nil, fmt.Errorf("invalid exec-form command %q: %w", rest, err)
		}
		// Shell wrappers like ["sh", "-c", "..."] carry the real command in
		// the final argument.
		if len(command) == 3 && command[1] == "-c" {
			return strings.Fields(command[2]), nil
		}
		return command, nil
	}
	return strings.Fields(rest), nil
}

// HasPackage reports whether the image installs the named package.
func (d *Descriptor) HasPackage(name string) bool {
	for _, pkg := range d.Packages {
		if pkg == name {
			return true
		}
	}
	return false
}

// Problems returns human-readable contract violations, or nil when the
// descriptor is consistent.
func (d *Descriptor) Problems() []string {
	var problems []string

	if d.EnvPort == 0 {
		problems = append(problems, "PORT environment default is not declared")
	} else if d.EnvPort != DefaultPort {
		problems = append(problems, fmt.Sprintf("PORT defaults to %d, expected %d", d.EnvPort, DefaultPort))
	}

	if len(d.ExposedPorts) == 0 {
		problems = append(problems, "no port is exposed")
	} else if d.EnvPort != 0 && !containsInt(d.ExposedPorts, d.EnvPort) {
		problems = append(problems, fmt.Sprintf("exposed ports %v do not include PORT default %d", d.ExposedPorts, d.EnvPort))
	}

	switch {
	case len(d.Command) == 0:
		problems = append(problems, "no start command is declared")
	case d.BindHost == "":
		problems = append(problems, "start command does not pass a --bind address")
	case d.BindHost != "0.0.0.0":
		problems = append(problems, fmt.Sprintf("start command binds %s, expected 0.0.0.0", d.BindHost))
	}
	if d.BindPort != "" && !strings.Contains(d.BindPort, "$") {
		if port, err := strconv.Atoi(d.BindPort); err != nil || (d.EnvPort != 0 && port != d.EnvPort) {
			problems = append(problems, fmt.Sprintf("start command binds port %s instead of the PORT variable", d.BindPort))
		}
	}

	if !d.HasPackage("ffmpeg") {
		problems = append(problems, "ffmpeg is not installed in the image")
	}
	if !d.HasPackage("yt-dlp") {
		problems = append(problems, "yt-dlp is not installed in the image")
	}

	return problems
}

func containsInt(values []int, want int) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
