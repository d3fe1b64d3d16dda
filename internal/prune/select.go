package prune

import "strings"

// Image is one line of the tagged-image listing: "<id> <repository>:<tag>".
type Image struct {
	ID        string
	Reference string
}

// Plan lists what a prune would remove on one host.
type Plan struct {
	Host       string   `json:"host"`
	Containers []string `json:"containers,omitempty"`
	Images     []string `json:"images,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Lines splits command output into its non-blank lines.
func Lines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseImages parses ImageList output. Malformed lines are skipped.
func ParseImages(out string) []Image {
	var images []Image
	for _, line := range Lines(out) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		images = append(images, Image{ID: fields[0], Reference: fields[1]})
	}
	return images
}

// SelectContainers returns the ids Containers would remove, given ids in
// the runtime's newest-first order.
func SelectContainers(ids []string, keepLast int) []string {
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	if len(ids) <= keepLast {
		return nil
	}
	return append([]string(nil), ids[keepLast:]...)
}

// SelectImages returns the images TaggedImages would remove: everything
// except protected references and untagged images.
func SelectImages(images []Image, protected []string) []Image {
	keep := make(map[string]bool, len(protected))
	for _, ref := range protected {
		keep[ref] = true
	}

	var out []Image
	for _, img := range images {
		if keep[img.Reference] || strings.HasSuffix(img.Reference, ":"+NoneTag) {
			continue
		}
		out = append(out, img)
	}
	return out
}

// Protected returns the references TaggedImages never removes: the images
// in use by containers plus the latest image.
func (p *Policy) Protected(inUse []string) []string {
	return append(append([]string(nil), inUse...), p.cfg.LatestImage())
}
