package usecase

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/cohortmanager/platform/shared/common"
)

var fileNamePattern = regexp.MustCompile(`^(.*)_-_([A-Za-z0-9_]+?)_(\d{8,14})_n(\d+)\.([A-Za-z]+)(\.gz)?$`)

// FileName is the parsed form of "<prefix>_-_<workflow>_<timestamp>_n<count>.<ext>"
type FileName struct {
	Raw          string
	Prefix       string
	WorkflowCode string
	Timestamp    string
	ClaimedCount int
	Extension    string
	Gzipped      bool
}

// ParseFileName validates name and its extension against allowed
func ParseFileName(name string, allowed []string) (FileName, error) {
	base := path.Base(name)
	m := fileNamePattern.FindStringSubmatch(base)
	if m == nil {
		return FileName{}, common.ErrShape(fmt.Sprintf("file name %q does not match <prefix>_-_<workflow>_<timestamp>_n<count>.<ext>", base))
	}

	count, err := strconv.Atoi(m[4])
	if err != nil {
		return FileName{}, common.ErrShape(fmt.Sprintf("record count in %q is not a number", base))
	}

	parsed := FileName{
		Raw:          name,
		Prefix:       m[1],
		WorkflowCode: m[2],
		Timestamp:    m[3],
		ClaimedCount: count,
		Extension:    strings.ToLower(m[5]),
		Gzipped:      m[6] != "",
	}

	if len(allowed) > 0 && !contains(allowed, parsed.Extension) {
		return FileName{}, common.ErrShape(fmt.Sprintf("file extension %q is not accepted", parsed.Extension))
	}
	return parsed, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
