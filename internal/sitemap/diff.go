package sitemap

// Diff is the difference between two sitemap URL sets.
type Diff struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Unchanged int      `json:"unchanged"`
}

// Summary is the count-only form of a Diff.
type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Summary returns the counts of d.
func (d Diff) Summary() Summary {
	return Summary{Added: len(d.Added), Removed: len(d.Removed), Unchanged: d.Unchanged}
}

// Compare diffs current against previous. Added holds URLs in current but not in previous,
// Removed holds URLs in previous but not in current, and Unchanged is the number of distinct
// current URLs also in previous. URLs are compared as exact strings. Duplicates within a
// set are counted once; output keeps first-seen order.
func Compare(current, previous []string) Diff {
	cur := toSet(current)
	prev := toSet(previous)

	d := Diff{Added: []string{}, Removed: []string{}}

	for _, u := range dedupe(current) {
		if _, ok := prev[u]; !ok {
			d.Added = append(d.Added, u)
		}
	}
	for _, u := range dedupe(previous) {
		if _, ok := cur[u]; !ok {
			d.Removed = append(d.Removed, u)
		}
	}
	d.Unchanged = len(cur) - len(d.Added)

	return d
}

func toSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
