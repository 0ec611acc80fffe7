package preset

// builtin 在未提供 presets 文件时使用，文件中的同名预设会覆盖它们。
var builtin = map[string]Preset{
	"kospi10": {
		Name:        "kospi10",
		Description: "KOSPI 市值前 10",
		Market:      "KR",
		Symbols: []string{
			"005930", "000660", "373220", "005380", "035420",
			"000270", "068270", "035720", "051910", "006400",
		},
	},
	"kospi20": {
		Name:        "kospi20",
		Description: "KOSPI 市值前 20",
		Market:      "KR",
		Symbols: []string{
			"005930", "000660", "373220", "005380", "035420",
			"000270", "068270", "035720", "051910", "006400",
			"207940", "005490", "055550", "105560", "003670",
			"028260", "012330", "066570", "096770", "003550",
		},
	},
	"mag7": {
		Name:        "mag7",
		Description: "美股科技七巨头",
		Market:      "US",
		Symbols:     []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA"},
	},
}
