package servicedisco

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/serverdensity/sd-agent/internal/config"
)

// CheckIDLabel names the container label that overrides the image-based
// check identifier.
const CheckIDLabel = "com.serverdensity.sd.check.id"

var templateVar = regexp.MustCompile(`%%(.+?)%%`)

// Identifier returns the key used to match a container against auto_conf
// templates: the explicit label when set, otherwise the bare image name.
func Identifier(c Container) string {
	if id, ok := c.Labels[CheckIDLabel]; ok && id != "" {
		return id
	}
	return imageName(c.Image)
}

// imageName strips registry and tag: "reg:5000/library/redis:6" -> "redis".
func imageName(image string) string {
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

func imageTag(image string) string {
	name := image
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return "latest"
}

// containerVars holds the resolved substitution context for one container.
type containerVars struct {
	container Container
	pid       int
	tags      []string
}

// FillInstance resolves every template variable in a template instance.
// An unresolvable variable fails the whole instance.
func (v containerVars) FillInstance(tpl config.Instance) (config.Instance, error) {
	out := make(config.Instance, len(tpl))
	for key, raw := range tpl {
		filled, err := v.fillValue(raw)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		out[key] = filled
	}
	return out, nil
}

func (v containerVars) fillValue(raw any) (any, error) {
	switch val := raw.(type) {
	case string:
		if val == "%%tags%%" {
			tags := make([]any, len(v.tags))
			for i, t := range v.tags {
				tags[i] = t
			}
			return tags, nil
		}
		return v.fillString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			filled, err := v.fillValue(inner)
			if err != nil {
				return nil, err
			}
			out[k] = filled
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			filled, err := v.fillValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = filled
		}
		return out, nil
	default:
		return raw, nil
	}
}

func (v containerVars) fillString(s string) (any, error) {
	var firstErr error
	filled := templateVar.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.Trim(match, "%")
		value, err := v.resolve(name)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return value
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return filled, nil
}

func (v containerVars) resolve(name string) (string, error) {
	switch {
	case name == "host":
		return v.hostIP("")
	case strings.HasPrefix(name, "host_"):
		return v.hostIP(strings.TrimPrefix(name, "host_"))
	case name == "port":
		return v.port(-1)
	case strings.HasPrefix(name, "port_"):
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "port_"))
		if err != nil {
			return "", fmt.Errorf("bad port index %%%%%s%%%%", name)
		}
		return v.port(idx)
	case name == "pid":
		if v.pid == 0 {
			return "", fmt.Errorf("pid unavailable for container %s", v.container.Name())
		}
		return strconv.Itoa(v.pid), nil
	case name == "container-name":
		return v.container.Name(), nil
	default:
		return "", fmt.Errorf("unknown template variable %%%%%s%%%%", name)
	}
}

// hostIP returns the requested network's IP. Without an explicit network the
// bridge network wins; when absent, the last network in sorted order does.
func (v containerVars) hostIP(network string) (string, error) {
	nets := v.container.NetworkSettings.Networks
	if len(nets) == 0 {
		return "", fmt.Errorf("container %s has no networks", v.container.Name())
	}

	if network != "" {
		if n, ok := nets[network]; ok && n.IPAddress != "" {
			return n.IPAddress, nil
		}
		return "", fmt.Errorf("container %s has no network %q", v.container.Name(), network)
	}

	if n, ok := nets["bridge"]; ok && n.IPAddress != "" {
		return n.IPAddress, nil
	}
	names := make([]string, 0, len(nets))
	for name := range nets {
		names = append(names, name)
	}
	sort.Strings(names)
	last := nets[names[len(names)-1]]
	if last.IPAddress == "" {
		return "", fmt.Errorf("container %s has no usable IP", v.container.Name())
	}
	return last.IPAddress, nil
}

// port returns the idx-th exposed port in numeric order, or the highest one
// for idx < 0.
func (v containerVars) port(idx int) (string, error) {
	if len(v.container.Ports) == 0 {
		return "", fmt.Errorf("container %s exposes no ports", v.container.Name())
	}
	ports := make([]int, 0, len(v.container.Ports))
	for _, p := range v.container.Ports {
		ports = append(ports, p.PrivatePort)
	}
	sort.Ints(ports)

	if idx < 0 {
		return strconv.Itoa(ports[len(ports)-1]), nil
	}
	if idx >= len(ports) {
		return "", fmt.Errorf("container %s has no port index %d", v.container.Name(), idx)
	}
	return strconv.Itoa(ports[idx]), nil
}

// containerTags builds the standard tag set for a discovered container.
func containerTags(c Container, labelsAsTags []string) []string {
	tags := []string{
		"docker_image:" + c.Image,
		"image_name:" + imageName(c.Image),
		"image_tag:" + imageTag(c.Image),
		"container_name:" + c.Name(),
	}
	for _, label := range labelsAsTags {
		if value, ok := c.Labels[label]; ok {
			tags = append(tags, label+":"+value)
		}
	}
	return tags
}
