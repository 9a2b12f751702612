package passphrase

// wordList is the fixed corpus passphrase tokens are drawn from. Entries are
// distinct, lowercase and never contain the separator.
var wordList = []string{
	// colours and stones
	"amber", "azure", "bronze", "cobalt", "crimson", "emerald", "garnet", "golden",
	"indigo", "ivory", "jade", "lavender", "magenta", "obsidian", "onyx", "pearl",
	"quartz", "ruby", "sapphire", "scarlet", "topaz", "turquoise", "violet",
	// animals
	"albatross", "badger", "butterfly", "cheetah", "dolphin", "elephant", "falcon",
	"flamingo", "gazelle", "giraffe", "heron", "hummingbird", "iguana", "jaguar",
	"koala", "lemur", "leopard", "lynx", "mongoose", "narwhal", "ocelot", "octopus",
	"otter", "panther", "pelican", "penguin", "quetzal", "raccoon", "salamander",
	"tiger", "toucan", "vulture", "walrus", "wolf", "yak", "zebra",
	// landscape and sky
	"asteroid", "blizzard", "canyon", "cascade", "comet", "delta", "desert",
	"eclipse", "fjord", "forest", "galaxy", "glacier", "harbor", "horizon",
	"island", "jungle", "lagoon", "meadow", "meteor", "mountain", "nebula",
	"oasis", "ocean", "prairie", "pyramid", "reef", "river", "savanna", "summit",
	"sunset", "tundra", "valley", "volcano", "waterfall", "zenith",
	// craft and machines
	"anvil", "beacon", "compass", "dynamo", "engine", "furnace", "gear", "hammer",
	"lantern", "lever", "magnet", "piston", "pulley", "rocket", "sextant",
	"telescope", "turbine", "winch",
	// myth
	"banshee", "centaur", "dragon", "griffin", "hydra", "kraken", "leviathan",
	"mermaid", "minotaur", "oracle", "pegasus", "phoenix", "sphinx", "titan",
	"valkyrie", "wizard", "yeti",
	// science
	"atom", "catalyst", "dimension", "electron", "fusion", "gravity", "isotope",
	"joule", "kinetic", "molecule", "neutron", "orbit", "particle", "photon",
	"plasma", "proton", "quantum", "spectrum", "vector", "velocity", "wavelength",
	// food
	"almond", "apricot", "avocado", "blueberry", "cinnamon", "coconut", "fig",
	"ginger", "guava", "hazelnut", "kiwi", "lychee", "mango", "nectarine",
	"nutmeg", "olive", "papaya", "pomegranate", "quince", "raspberry", "saffron",
	"tangerine", "vanilla",
	// music
	"ballad", "cello", "chorus", "concert", "fugue", "guitar", "harmony", "harp",
	"lyric", "melody", "opera", "piano", "quartet", "rhythm", "sonata", "symphony",
	"tempo", "trumpet", "ukulele", "violin", "waltz",
	// travel
	"backpack", "caravan", "cruise", "expedition", "frontier", "globe", "journey",
	"landmark", "odyssey", "passport", "pilgrim", "route", "safari", "voyage",
	"wanderer",
}
