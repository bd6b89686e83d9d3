package identity

// alias maps a lowercase label key to a canonical cell line name.
type alias struct {
	key       string
	canonical string
}

// aliases is kept longest key first so prefix matching never lets a short
// key shadow a more specific one. TestAliasesOrderedLongestFirst pins this.
var aliases = []alias{
	{"es-e14tg2a", "ES-E14"},
	{"huvec cell", "HUVEC"},
	{"hff-htert", "foreskin fibroblast"},
	{"h1-hesc", "H1"},
	{"gm12878", "GM12878"},
	{"ch12.lx", "CH12.LX"},
	{"cc-2551", "IMR-90"},
	{"hela-s3", "HeLa-S3"},
	{"hct116", "HCT116"},
	{"imr-90", "IMR-90"},
	{"es-e14", "ES-E14"},
	{"wtc-11", "WTC11"},
	{"caco-2", "Caco-2"},
	{"hepg2", "HepG2"},
	{"kbm-7", "KBM-7"},
	{"mcf-7", "MCF-7"},
	{"panc1", "Panc1"},
	{"lncap", "LNCaP clone FGC"},
	{"hap-1", "HAP-1"},
	{"k562", "K562"},
	{"a549", "A549"},
	{"pc-3", "PC-3"},
	{"h9", "H9"},
}

// prefixBoundaries are the characters allowed right after a matched prefix.
const prefixBoundaries = " (,-_./"

// delimiters split decorated labels such as "H1 differentiated to ..." so the
// leading part can be retried against the alias table.
var delimiters = []string{
	" with ",
	" differentiated to ",
	" - clone ",
	" (",
}

var tissues = map[string]string{
	"GM12878":             "B-lymphocyte",
	"K562":                "Leukemia (CML)",
	"HCT116":              "Colon carcinoma",
	"HeLa-S3":             "Cervical carcinoma",
	"HepG2":               "Hepatocellular carcinoma",
	"IMR-90":              "Fetal lung fibroblast",
	"H9":                  "Embryonic stem cell",
	"H1":                  "Embryonic stem cell",
	"HAP-1":               "Chronic myelogenous leukemia",
	"KBM-7":               "Chronic myelogenous leukemia",
	"CH12.LX":             "B-cell lymphoma (mouse)",
	"ES-E14":              "Embryonic stem cell (mouse)",
	"HUVEC":               "Umbilical vein endothelial",
	"WTC11":               "iPSC",
	"MCF-7":               "Breast carcinoma",
	"A549":                "Lung carcinoma",
	"Panc1":               "Pancreatic carcinoma",
	"PC-3":                "Prostate carcinoma",
	"LNCaP clone FGC":     "Prostate carcinoma",
	"Caco-2":              "Colorectal carcinoma",
	"foreskin fibroblast": "Foreskin fibroblast",
}

// organismHints are matched as substrings of the folded organism hint, in order.
var organismHints = []struct {
	keyword string
	species string
}{
	{"human", SpeciesHuman},
	{"mouse", SpeciesMouse},
	{"drosophila", SpeciesFly},
	{"zebrafish", SpeciesZebrafish},
	{"c. elegans", "Caenorhabditis elegans"},
	{"rat", "Rattus norvegicus"},
}

var humanIndicators = []string{
	"gm12878", "k562", "hct116", "hela", "hepg2", "imr-90", "imr90",
	"h1-hesc", "h1 ", "h9 ", "hap-1", "kbm-7", "wtc11", "wtc-11",
	"huvec", "mcf-7", "a549", "panc1", "pc-3", "lncap", "caco-2",
	"foreskin fibroblast", "hff", "rptel", "htert", "pdx1",
	"cardiac muscle cell", "heart left",
}

var mouseIndicators = []string{
	"mouse", "mesc", "es-e14", "ch12", "g1e-er4", "g1e", "mef",
	"cerebellar granule neuron", "olfactory receptor cell", "thymocyte",
	"treg", "tcon", "foxp3", "pnd ", "postnatal", "inner cell mass",
	"embryo", "2-cell", "8-cell", "morula", "blastocyst", "trophoblast",
	"cerebellum", "cortex",
}

var assemblies = map[string]string{
	SpeciesHuman:     "GRCh38",
	SpeciesMouse:     "mm10",
	SpeciesFly:       "dm6",
	SpeciesZebrafish: "danRer11",
}
