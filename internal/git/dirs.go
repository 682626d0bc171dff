package git

import (
	"path"
	"sort"
)

// DirectoryChanges reports the directories that exist only in after and
// only in before. Paths are slash-separated and relative to the root.
func DirectoryChanges(before, after []string) (added, removed []string) {
	b, a := directorySet(before), directorySet(after)
	return setDifference(a, b), setDifference(b, a)
}

func directorySet(files []string) map[string]bool {
	dirs := make(map[string]bool)
	for _, f := range files {
		for d := path.Dir(f); d != "." && d != "/" && !dirs[d]; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	return dirs
}

func directoriesOf(files []string) []string {
	return setDifference(directorySet(files), nil)
}

func setDifference(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
