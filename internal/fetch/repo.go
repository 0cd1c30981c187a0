package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// Repo names one GitHub repository snapshot.
type Repo struct {
	Owner string
	Name  string
	Ref   string // branch, tag, or commit; empty means the default branch
}

// Slug returns the owner/name form.
func (r Repo) Slug() string {
	return r.Owner + "/" + r.Name
}

// TarballURL returns the codeload snapshot URL for the repo at its ref.
func (r Repo) TarballURL() string {
	return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", r.Owner, r.Name, r.Ref)
}

// ParseRepoURL accepts the GitHub repository spellings users paste:
//
//	https://github.com/owner/repo
//	https://github.com/owner/repo/tree/<ref>
//	github.com/owner/repo
//	owner/repo
//	owner/repo@<ref>
func ParseRepoURL(raw string) (Repo, error) {
	spec := strings.TrimSpace(raw)
	var ref string
	if at := strings.LastIndexByte(spec, '@'); at > 0 {
		spec, ref = spec[:at], spec[at+1:]
	}
	spec = strings.TrimPrefix(spec, "https://")
	spec = strings.TrimPrefix(spec, "http://")
	spec = strings.TrimPrefix(spec, "github.com/")
	spec = strings.TrimSuffix(spec, ".git")
	spec = strings.Trim(spec, "/")

	parts := strings.Split(spec, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("parse repo %q: expected owner/repo", raw)
	}
	repo := Repo{Owner: parts[0], Name: parts[1], Ref: ref}
	if len(parts) >= 4 && parts[2] == "tree" {
		repo.Ref = strings.Join(parts[3:], "/")
	} else if len(parts) > 2 && parts[2] != "tree" {
		return Repo{}, fmt.Errorf("parse repo %q: unexpected path after owner/repo", raw)
	}
	if repo.Ref != "" {
		if _, err := url.PathUnescape(repo.Ref); err != nil {
			return Repo{}, fmt.Errorf("parse repo %q: bad ref", raw)
		}
	}
	return repo, nil
}

// IsRemote reports whether the argument looks like a repository spec rather
// than a local path.
func IsRemote(arg string) bool {
	if strings.HasPrefix(arg, "https://") || strings.HasPrefix(arg, "http://") {
		return true
	}
	return strings.HasPrefix(arg, "github.com/")
}
