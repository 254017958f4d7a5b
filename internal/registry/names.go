// ABOUTME: Deterministic quirky agent-name generator
// ABOUTME: Attempt index perturbs the hash to break collisions

package registry

import "hash/fnv"

var nameAdjectives = []string{
	"agile", "bold", "brave", "breezy", "bright", "calm", "clever", "cosmic",
	"crafty", "daring", "dashing", "deft", "eager", "fearless", "fleet",
	"gentle", "keen", "lively", "lucky", "mellow", "merry", "nimble",
	"plucky", "quick", "quiet", "rapid", "sharp", "shiny", "sly", "snappy",
	"sparky", "spry", "steady", "sunny", "swift", "tidy", "vivid", "wily",
	"witty", "zesty",
}

var nameAnimals = []string{
	"badger", "beaver", "bison", "condor", "coyote", "crane", "dolphin",
	"falcon", "ferret", "finch", "fox", "gecko", "heron", "ibex", "jackal",
	"kestrel", "lemur", "lynx", "magpie", "marmot", "marten", "mole",
	"ocelot", "osprey", "otter", "owl", "panther", "puffin", "raven",
	"salmon", "sparrow", "stoat", "swallow", "swift", "tapir", "toucan",
	"viper", "walrus", "weasel", "wombat",
}

// GenerateName derives a quirky adjective-animal slug from a seed. The same
// seed and attempt always produce the same name; bumping attempt walks to a
// different combination when the first choice is taken.
func GenerateName(seed string, attempt int) string {
	h := fnv.New64a()
	h.Write([]byte(seed))
	h.Write([]byte{byte(attempt), byte(attempt >> 8)})
	sum := h.Sum64()

	adj := nameAdjectives[sum%uint64(len(nameAdjectives))]
	animal := nameAnimals[(sum/uint64(len(nameAdjectives)))%uint64(len(nameAnimals))]
	return adj + "-" + animal
}
