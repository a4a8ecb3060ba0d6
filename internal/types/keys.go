package types

import "fmt"

// ChangeKey builds the canonical identity for a code change at a specific
// head commit. Used for review dedup, locking, and comment de-duplication.
func ChangeKey(host, repo string, number int, headSHA string) string {
	return fmt.Sprintf("%s/%s#%d@%s", host, repo, number, headSHA)
}
