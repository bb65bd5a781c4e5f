package securities

// Issuer prefix (first six CUSIP characters) to ticker.
var builtinCUSIPPrefixes = map[string]string{
	"037833": "AAPL",  // Apple
	"02079K": "GOOGL", // Alphabet Class A
	"02079L": "GOOG",  // Alphabet Class C
	"594918": "MSFT",  // Microsoft
	"023135": "AMZN",  // Amazon
	"30303M": "META",  // Meta Platforms
	"67066G": "NVDA",  // NVIDIA
	"88160R": "TSLA",  // Tesla
	"084670": "BRK.B", // Berkshire Hathaway
	"060505": "BAC",   // Bank of America
	"46625H": "JPM",   // JPMorgan
	"92826C": "V",     // Visa
	"478160": "JNJ",   // Johnson & Johnson
	"931142": "WMT",   // Walmart
	"742718": "PG",    // Procter & Gamble
	"57636Q": "MA",    // Mastercard
	"172967": "C",     // Citigroup
	"254687": "DIS",   // Disney
	"459200": "IBM",   // IBM
	"713448": "PEP",   // PepsiCo
	"191216": "KO",    // Coca-Cola
	"166764": "CVX",   // Chevron
	"30231G": "XOM",   // Exxon Mobil
	"64110L": "NFLX",  // Netflix
	"097023": "BA",    // Boeing
	"539830": "LMT",   // Lockheed Martin
	"75513E": "RTX",   // RTX
	"666807": "NOC",   // Northrop Grumman
	"369550": "GD",    // General Dynamics
	"717081": "PFE",   // Pfizer
	"58933Y": "MRK",   // Merck
	"025816": "AXP",   // American Express
	"615369": "MCO",   // Moody's
	"H1467J": "CB",    // Chubb
	"500754": "KHC",   // Kraft Heinz
	"674599": "OXY",   // Occidental
	"23918K": "DVA",   // DaVita
}

// Normalized issuer name fragment to ticker. Matched on whole words.
var builtinNames = map[string]string{
	"apple":             "AAPL",
	"microsoft":         "MSFT",
	"google":            "GOOGL",
	"alphabet":          "GOOGL",
	"amazon":            "AMZN",
	"amazon com":        "AMZN",
	"meta platforms":    "META",
	"facebook":          "META",
	"nvidia":            "NVDA",
	"tesla":             "TSLA",
	"jpmorgan":          "JPM",
	"jpmorgan chase":    "JPM",
	"berkshire":         "BRK.B",
	"johnson & johnson": "JNJ",
	"procter":           "PG",
	"visa":              "V",
	"mastercard":        "MA",
	"disney":            "DIS",
	"walt disney":       "DIS",
	"netflix":           "NFLX",
	"boeing":            "BA",
	"lockheed":          "LMT",
	"raytheon":          "RTX",
	"northrop":          "NOC",
	"general dynamics":  "GD",
	"exxon":             "XOM",
	"chevron":           "CVX",
	"pfizer":            "PFE",
	"merck":             "MRK",
	"coca cola":         "KO",
	"pepsico":           "PEP",
	"walmart":           "WMT",
	"bank of america":   "BAC",
	"bank amer":         "BAC",
	"citigroup":         "C",
	"american express":  "AXP",
	"occidental":        "OXY",
}
