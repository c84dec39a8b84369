package vocab

// Tables is the plain configuration data a Vocabulary is built from. It is
// copied on construction, so callers may reuse or mutate a Tables value
// after passing it to New.
type Tables struct {
	// Synonyms maps an alias (matched case-insensitively) to its canonical name.
	Synonyms map[string]string `yaml:"synonyms"`
	// Codes are short lab codes searched as substrings of the upper-cased,
	// space-stripped name, in order. Longer codes that share a prefix with a
	// shorter one must come first.
	Codes []string `yaml:"codes"`
	// Markers lists decorative glyphs removed from names.
	Markers string `yaml:"markers"`
	// AnnotationKeywords flag a parenthetical note as removable.
	AnnotationKeywords []string `yaml:"annotation_keywords"`
	Flags              FlagWords    `yaml:"flags"`
	StatusLabels       StatusLabels `yaml:"status_labels"`
	Phase              PhaseLabels  `yaml:"phase"`
	Headers            Headers      `yaml:"headers"`
}

// FlagWords lists the status texts read as an explicit flag.
type FlagWords struct {
	Up     []string `yaml:"up"`
	Down   []string `yaml:"down"`
	Normal []string `yaml:"normal"`
}

// StatusLabels are written into an empty status when a flag is derived.
type StatusLabels struct {
	Low    string `yaml:"low"`
	High   string `yaml:"high"`
	Normal string `yaml:"normal"`
}

// PhaseLabels are the treatment-cycle label templates. Cycle may reference
// {cycle} and {day}.
type PhaseLabels struct {
	Before string `yaml:"before"`
	Cycle  string `yaml:"cycle"`
}

// Headers holds the ranked header-name substrings accepted for each field
// of a lab report export.
type Headers struct {
	Date      []string `yaml:"date"`
	Name      []string `yaml:"name"`
	Value     []string `yaml:"value"`
	Status    []string `yaml:"status"`
	Reference []string `yaml:"reference"`
	Unit      []string `yaml:"unit"`
}

// DefaultTables returns a fresh copy of the built-in complete-blood-count
// vocabulary.
func DefaultTables() Tables {
	synonyms := make(map[string]string, len(defaultSynonyms))
	for k, v := range defaultSynonyms {
		synonyms[k] = v
	}
	return Tables{
		Synonyms:           synonyms,
		Codes:              append([]string(nil), defaultCodes...),
		Markers:            "★☆＊*※✱﹡",
		AnnotationKeywords: []string{"新版", "星标", "标星"},
		Flags: FlagWords{
			Up:     []string{"↑", "H", "高", "偏高"},
			Down:   []string{"↓", "L", "低", "偏低"},
			Normal: []string{"-", "N", "正常", "阴性"},
		},
		StatusLabels: StatusLabels{Low: "low", High: "high", Normal: "normal"},
		Phase: PhaseLabels{
			Before: "首次化疗前",
			Cycle:  "第{cycle}次化疗d{day}",
		},
		Headers: Headers{
			Date:      []string{"报告日期", "日期", "采集时间", "采集日期", "检验时间", "检验日期", "时间"},
			Name:      []string{"检测指标", "项目", "项目名称", "检验项目"},
			Value:     []string{"结果", "数值"},
			Status:    []string{"状态"},
			Reference: []string{"参考值", "参考范围", "参考区间"},
			Unit:      []string{"单位"},
		},
	}
}

var defaultCodes = []string{
	"NEUT#", "NEUT%", "LYMPH#", "LYMPH%", "LYM#", "LYM%",
	"EO#", "EO%", "BASO#", "BASO%", "MONO#", "MONO%",
	"NRBC#", "NRBC%", "WBC", "RBC", "HGB", "HCT",
	"MCHC", "MCH", "MCV", "PLT", "MPV", "PDW", "P-LCR", "PCT",
	"ANC", "RDW-CV", "RDW-SD",
}

var defaultSynonyms = map[string]string{
	// white cells
	"wbc": "白细胞计数", "白细胞": "白细胞计数", "白细胞数": "白细胞计数", "白细胞计数": "白细胞计数",

	// neutrophils
	"neut#": "中性粒细胞计数", "neut%": "中性粒细胞百分数",
	"中性粒细胞计数": "中性粒细胞计数", "中性细胞计数": "中性粒细胞计数",
	"中性粒细胞百分比": "中性粒细胞百分数", "中性粒细胞%": "中性粒细胞百分数", "中性细胞百分数": "中性粒细胞百分数",
	"中性粒细胞绝对值": "中性粒细胞计数", "anc": "中性粒细胞计数",

	// lymphocytes
	"lymph#": "淋巴细胞计数", "lymph%": "淋巴细胞百分数", "lym#": "淋巴细胞计数", "lym%": "淋巴细胞百分数",
	"淋巴细胞数": "淋巴细胞计数", "淋巴细胞绝对值": "淋巴细胞计数",
	"淋巴细胞比率": "淋巴细胞百分数", "淋巴细胞%": "淋巴细胞百分数",

	// eosinophils
	"eo#": "嗜酸性粒细胞计数", "eo%": "嗜酸性粒细胞百分数",
	"嗜酸细胞计数": "嗜酸性粒细胞计数", "嗜酸粒细胞计数": "嗜酸性粒细胞计数", "嗜酸性粒细胞绝对值": "嗜酸性粒细胞计数",
	"嗜酸细胞百分比": "嗜酸性粒细胞百分数", "嗜酸粒细胞百分比": "嗜酸性粒细胞百分数",

	// basophils
	"baso#": "嗜碱性粒细胞计数", "baso%": "嗜碱性粒细胞百分数",
	"嗜碱细胞计数": "嗜碱性粒细胞计数", "嗜碱粒细胞计数": "嗜碱性粒细胞计数", "嗜碱性粒细胞绝对值": "嗜碱性粒细胞计数",
	"嗜碱细胞百分比": "嗜碱性粒细胞百分数", "嗜碱粒细胞百分比": "嗜碱性粒细胞百分数",

	// monocytes
	"mono#": "单核细胞计数", "mono%": "单核细胞百分数",
	"单核细胞数": "单核细胞计数", "单核细胞绝对值": "单核细胞计数", "单核细胞比率": "单核细胞百分数",

	// nucleated red cells
	"nrbc#": "有核红细胞计数", "nrbc%": "有核红细胞百分数",
	"有核红细胞计数": "有核红细胞计数", "有核红细胞绝对值": "有核红细胞计数",

	// red cells
	"rbc": "红细胞", "红细胞数": "红细胞", "红细胞计数": "红细胞", "红细胞": "红细胞",
	"hgb": "血红蛋白", "hb": "血红蛋白", "血红蛋白": "血红蛋白", "血红蛋白浓度": "血红蛋白",
	"hct": "红细胞压积", "红细胞比容": "红细胞压积", "红细胞压积": "红细胞压积",
	"mcv": "平均红细胞体积", "平均红细胞体积": "平均红细胞体积",
	"mch": "平均红细胞血红蛋白含量", "平均红细胞血红蛋白含量": "平均红细胞血红蛋白含量", "平均红细胞血红蛋白量": "平均红细胞血红蛋白含量",
	"mchc": "平均红细胞血红蛋白浓度", "平均红细胞血红蛋白浓度": "平均红细胞血红蛋白浓度",
	"红细胞分布宽度cv": "红细胞分布宽度变异系数", "rdw-cv": "红细胞分布宽度变异系数",
	"红细胞分布宽度sd": "红细胞分布宽度标准差", "rdw-sd": "红细胞分布宽度标准差", "rdw sd": "红细胞分布宽度标准差",

	// platelets
	"plt": "血小板计数", "血小板数": "血小板计数", "血小板计数": "血小板计数",
	"mpv": "平均血小板体积", "平均血小板体积": "平均血小板体积",
	"pdw": "血小板分布宽度", "血小板分布宽度": "血小板分布宽度", "血小板体积分布宽度": "血小板分布宽度",
	"p-lcr": "大血小板比率", "大血小板比率": "大血小板比率",
	"pct": "血小板比容", "血小板比容": "血小板比容",
}
