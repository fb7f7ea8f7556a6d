package download

import (
	"net/url"
	"regexp"
	"strings"

	"tubefetch/internal/job"
)

var (
	videoIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	formatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

const maxURLLength = 2048

// validator checks submissions before any job is created.
type validator struct {
	hosts map[string]struct{}
}

func newValidator(hosts []string) *validator {
	v := &validator{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			v.hosts[h] = struct{}{}
		}
	}
	return v
}

// checkURL accepts watch, short link, shorts, embed and live URLs of an allowed host.
func (v *validator) checkURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidInput("url is required")
	}
	if len(raw) > maxURLLength {
		return "", invalidInput("url is too long")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalidInput("url must be an absolute http(s) url")
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := v.hosts[host]; !ok {
		return "", invalidInput("unsupported host %q", host)
	}

	var id string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case host == "youtu.be":
		id = segments[0]
	case len(segments) == 1 && segments[0] == "watch":
		id = u.Query().Get("v")
	case len(segments) >= 2 && (segments[0] == "shorts" || segments[0] == "embed" || segments[0] == "live"):
		id = segments[1]
	}
	if !videoIDPattern.MatchString(id) {
		return "", invalidInput("url does not point to a video")
	}
	return raw, nil
}

// normalize validates r and returns the job template it describes.
func (v *validator) normalize(r Request) (job.Job, error) {
	pageURL, err := v.checkURL(r.URL)
	if err != nil {
		return job.Job{}, err
	}
	mode := r.Mode
	if mode == "" {
		mode = job.ModeSingle
		if r.FormatID == "" && (r.VideoFormatID != "" || r.AudioFormatID != "") {
			mode = job.ModeMerge
		}
	}

	var formats []string
	switch mode {
	case job.ModeSingle:
		if err := checkFormatID("format_id", r.FormatID); err != nil {
			return job.Job{}, err
		}
		formats = []string{r.FormatID}
	case job.ModeMerge:
		if err := checkFormatID("video_format_id", r.VideoFormatID); err != nil {
			return job.Job{}, err
		}
		if err := checkFormatID("audio_format_id", r.AudioFormatID); err != nil {
			return job.Job{}, err
		}
		formats = []string{r.VideoFormatID, r.AudioFormatID}
	default:
		return job.Job{}, invalidInput("unknown mode %q", mode)
	}

	return job.Job{
		Mode:             mode,
		URL:              pageURL,
		RequestedFormats: formats,
		StatusText:       "Queued",
	}, nil
}

func checkFormatID(field, id string) error {
	if id == "" {
		return invalidInput("%s is required", field)
	}
	if !formatIDPattern.MatchString(id) {
		return invalidInput("%s has invalid characters", field)
	}
	return nil
}
