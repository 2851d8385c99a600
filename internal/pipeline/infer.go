package pipeline

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"partsbin/internal"
	"partsbin/internal/util"
)

// InferCandidate builds a best-effort component candidate from an item's
// free-text title plus any structured specification map. It is pure and
// deterministic and never fails: a title with no recognizable signal yields
// a minimal candidate (generic category, raw title as name, empty tags).
// Only a blank title yields nil.
func InferCandidate(title string, specs map[string]string) *internal.ComponentCandidate {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}

	c := &internal.ComponentCandidate{
		Name:     title,
		Category: internal.CategoryGeneric,
		Tags:     []string{},
	}

	lower := strings.ToLower(title)
	tokens := splitTokens(lower)

	c.Category, c.Subcategory = classify(lower, tokens)
	c.Manufacturer = detectManufacturer(lower, tokens)
	c.PartNumber = extractPartNumber(title)
	c.Specs = extractElectricalSpecs(title)
	c.PackageType, c.PinCount = extractPackage(title)
	c.Protocols = detectProtocols(tokens)
	c.Tags = deriveTags(tokens)

	applyStructuredSpecs(c, specs)
	return c
}

// categoryRule maps title keywords to a category/subcategory. Rules are
// ordered most specific first; the first hit wins. Multi-word keywords
// match as substrings, single words as whole tokens.
type categoryRule struct {
	keywords    []string
	category    string
	subcategory string
}

var categoryRules = []categoryRule{
	{[]string{"potentiometer", "trimpot", "trimmer"}, "Resistor", "Potentiometer"},
	{[]string{"thermistor", "ntc", "ptc"}, "Resistor", "Thermistor"},
	{[]string{"photoresistor", "ldr"}, "Resistor", "Photoresistor"},
	{[]string{"resistor"}, "Resistor", ""},
	{[]string{"electrolytic capacitor", "electrolytic"}, "Capacitor", "Electrolytic"},
	{[]string{"ceramic capacitor"}, "Capacitor", "Ceramic"},
	{[]string{"tantalum"}, "Capacitor", "Tantalum"},
	{[]string{"supercapacitor", "supercap"}, "Capacitor", "Supercapacitor"},
	{[]string{"capacitor"}, "Capacitor", ""},
	{[]string{"inductor", "choke"}, "Inductor", ""},
	{[]string{"zener"}, "Diode", "Zener"},
	{[]string{"schottky"}, "Diode", "Schottky"},
	{[]string{"rectifier"}, "Diode", "Rectifier"},
	{[]string{"led strip", "led matrix"}, "Diode", "LED"},
	{[]string{"led"}, "Diode", "LED"},
	{[]string{"diode"}, "Diode", ""},
	{[]string{"mosfet"}, "Transistor", "MOSFET"},
	{[]string{"igbt"}, "Transistor", "IGBT"},
	{[]string{"darlington"}, "Transistor", "Darlington"},
	{[]string{"transistor", "bjt"}, "Transistor", ""},
	{[]string{"microcontroller", "mcu"}, "Integrated Circuit", "Microcontroller"},
	{[]string{"eeprom", "flash memory", "sram"}, "Integrated Circuit", "Memory"},
	{[]string{"op amp", "op-amp", "opamp", "operational amplifier"}, "Integrated Circuit", "Op-Amp"},
	{[]string{"voltage regulator", "ldo", "buck converter", "boost converter"}, "Integrated Circuit", "Voltage Regulator"},
	{[]string{"shift register", "logic gate", "timer ic"}, "Integrated Circuit", "Logic"},
	{[]string{"optocoupler", "optoisolator"}, "Integrated Circuit", "Optocoupler"},
	{[]string{"temperature sensor"}, "Sensor", "Temperature"},
	{[]string{"humidity sensor", "dht11", "dht22"}, "Sensor", "Humidity"},
	{[]string{"pressure sensor", "barometric"}, "Sensor", "Pressure"},
	{[]string{"ultrasonic"}, "Sensor", "Ultrasonic"},
	{[]string{"motion sensor", "pir"}, "Sensor", "Motion"},
	{[]string{"accelerometer", "gyroscope", "imu"}, "Sensor", "IMU"},
	{[]string{"hall effect", "hall sensor"}, "Sensor", "Hall Effect"},
	{[]string{"sensor"}, "Sensor", ""},
	{[]string{"esp32", "esp8266", "wifi module"}, "Module", "WiFi"},
	{[]string{"bluetooth module", "hc-05", "hc-06"}, "Module", "Bluetooth"},
	{[]string{"relay module"}, "Module", "Relay"},
	{[]string{"development board", "dev board", "arduino", "raspberry pi"}, "Module", "Development Board"},
	{[]string{"breakout", "shield", "module"}, "Module", ""},
	{[]string{"crystal", "oscillator", "resonator"}, "Crystal & Oscillator", ""},
	{[]string{"pin header", "connector", "socket", "terminal block", "jst", "dupont"}, "Connector", ""},
	{[]string{"pushbutton", "push button", "tactile switch"}, "Switch", "Tactile"},
	{[]string{"toggle switch"}, "Switch", "Toggle"},
	{[]string{"switch", "button"}, "Switch", ""},
	{[]string{"relay"}, "Relay", ""},
	{[]string{"oled", "lcd", "tft", "seven segment", "7-segment", "display"}, "Display", ""},
	{[]string{"jumper wire", "wire", "cable"}, "Wire & Cable", ""},
	{[]string{"battery holder", "battery", "power supply"}, "Power", ""},
	{[]string{"fuse", "varistor", "tvs"}, "Protection", ""},
	{[]string{"buzzer", "speaker", "microphone"}, "Audio", ""},
	{[]string{"servo", "stepper", "motor"}, "Motor", ""},
	{[]string{"transformer"}, "Transformer", ""},
	{[]string{"heatsink", "heat sink"}, "Thermal", ""},
}

func classify(lower string, tokens []string) (string, string) {
	tokenSet := map[string]struct{}{}
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.ContainsRune(kw, ' ') || strings.ContainsRune(kw, '-') {
				if strings.Contains(lower, kw) {
					return rule.category, rule.subcategory
				}
				continue
			}
			if _, ok := tokenSet[kw]; ok {
				return rule.category, rule.subcategory
			}
		}
	}
	return internal.CategoryGeneric, ""
}

var manufacturerVocab = []struct {
	probe     string
	canonical string
}{
	{"texas instruments", "Texas Instruments"},
	{"stmicroelectronics", "STMicroelectronics"},
	{"microchip", "Microchip"},
	{"atmel", "Atmel"},
	{"nxp", "NXP"},
	{"espressif", "Espressif"},
	{"infineon", "Infineon"},
	{"vishay", "Vishay"},
	{"on semiconductor", "ON Semiconductor"},
	{"onsemi", "ON Semiconductor"},
	{"analog devices", "Analog Devices"},
	{"maxim", "Maxim"},
	{"rohm", "ROHM"},
	{"toshiba", "Toshiba"},
	{"murata", "Murata"},
	{"nichicon", "Nichicon"},
	{"panasonic", "Panasonic"},
	{"tdk", "TDK"},
	{"yageo", "Yageo"},
	{"bourns", "Bourns"},
	{"kemet", "KEMET"},
}

func detectManufacturer(lower string, tokens []string) *string {
	tokenSet := map[string]struct{}{}
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	for _, entry := range manufacturerVocab {
		if strings.ContainsRune(entry.probe, ' ') {
			if strings.Contains(lower, entry.probe) {
				return util.StringPtr(entry.canonical)
			}
			continue
		}
		if _, ok := tokenSet[entry.probe]; ok {
			return util.StringPtr(entry.canonical)
		}
	}
	return nil
}

var (
	partNumberToken = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{3,}$`)
	specLikeToken   = regexp.MustCompile(`^\d+(?:\.\d+)?(?:V|MV|KV|A|MA|UA|W|K|M|OHM|KOHM|MOHM|UF|NF|PF|HZ|KHZ|MHZ|MM|CM|AWG)$`)
	packageToken    = regexp.MustCompile(`^(?:DIP|PDIP|SOIC|SOP|TSSOP|SSOP|TQFP|LQFP|QFN|QFP|BGA|SOT|TO)-?\d*[A-Z]*$|^(?:0201|0402|0603|0805|1206|1210|2512)$|^SM[DT]$`)
	qtyLikeToken    = regexp.MustCompile(`^\d+(?:PCS?|PIECES?|SETS?|PAIRS?|LOTS?|PACKS?|X)$`)
)

// extractPartNumber looks for a manufacturer-style alphanumeric token,
// preferring tokens near the title start or ones that directly follow a
// manufacturer keyword.
func extractPartNumber(title string) *string {
	words := strings.Fields(strings.ToUpper(title))
	type scored struct {
		token string
		score int
	}
	candidates := []scored{}

	prevIsManufacturer := false
	for i, w := range words {
		w = strings.Trim(w, ",;:()[]")
		lw := strings.ToLower(w)
		isManufacturerWord := false
		for _, entry := range manufacturerVocab {
			if lw == entry.probe {
				isManufacturerWord = true
				break
			}
		}

		if isPartNumberToken(w) {
			score := len(words) - i
			if prevIsManufacturer {
				score += len(words)
			}
			candidates = append(candidates, scored{token: w, score: score})
		}
		prevIsManufacturer = isManufacturerWord
	}

	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return util.StringPtr(candidates[0].token)
}

func isPartNumberToken(w string) bool {
	if !partNumberToken.MatchString(w) {
		return false
	}
	if specLikeToken.MatchString(w) || packageToken.MatchString(w) || qtyLikeToken.MatchString(w) {
		return false
	}
	letters, digits := 0, 0
	for _, r := range w {
		switch {
		case r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	return letters >= 1 && digits >= 2
}

// unit tables for electrical spec extraction, longest suffix first so "mhz"
// wins over "hz" and "kohm" over "ohm".
var specUnits = []struct {
	suffix string
	kind   internal.SpecKind
	unit   string
}{
	{"kohm", internal.SpecResistance, "kΩ"},
	{"mohm", internal.SpecResistance, "MΩ"},
	{"ohm", internal.SpecResistance, "Ω"},
	{"kΩ", internal.SpecResistance, "kΩ"},
	{"mΩ", internal.SpecResistance, "MΩ"},
	{"Ω", internal.SpecResistance, "Ω"},
	{"µf", internal.SpecCapacitance, "µF"},
	{"uf", internal.SpecCapacitance, "µF"},
	{"nf", internal.SpecCapacitance, "nF"},
	{"pf", internal.SpecCapacitance, "pF"},
	{"mhz", internal.SpecFrequency, "MHz"},
	{"khz", internal.SpecFrequency, "kHz"},
	{"hz", internal.SpecFrequency, "Hz"},
	{"mv", internal.SpecVoltage, "mV"},
	{"kv", internal.SpecVoltage, "kV"},
	{"v", internal.SpecVoltage, "V"},
	{"ma", internal.SpecCurrent, "mA"},
	{"ua", internal.SpecCurrent, "µA"},
	{"a", internal.SpecCurrent, "A"},
}

var specValuePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)(?:\s*[-–~]\s*(\d+(?:\.\d+)?))?\s*(kohm|mohm|ohm|kΩ|mΩ|Ω|µf|uf|nf|pf|mhz|khz|hz|mv|kv|ma|ua|v|a)\b`)

// "10K Ohm" and "4.7k ohm" write the multiplier as its own token.
var resistanceKiloPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(k|m)\s*(?:ohm|Ω)s?\b`)

func extractElectricalSpecs(title string) []internal.ElectricalSpec {
	out := []internal.ElectricalSpec{}
	seen := map[internal.SpecKind]struct{}{}

	add := func(spec internal.ElectricalSpec) {
		if _, dup := seen[spec.Kind]; dup {
			return
		}
		seen[spec.Kind] = struct{}{}
		out = append(out, spec)
	}

	for _, m := range resistanceKiloPattern.FindAllStringSubmatch(title, -1) {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := "kΩ"
		if strings.EqualFold(m[2], "m") {
			unit = "MΩ"
		}
		add(internal.ElectricalSpec{Kind: internal.SpecResistance, Value: util.FloatPtr(value), Unit: unit})
	}

	for _, m := range specValuePattern.FindAllStringSubmatch(title, -1) {
		kind, unit, ok := lookupUnit(m[3])
		if !ok {
			continue
		}
		low, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			high, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			add(internal.ElectricalSpec{Kind: kind, Min: util.FloatPtr(low), Max: util.FloatPtr(high), Unit: unit})
			continue
		}
		add(internal.ElectricalSpec{Kind: kind, Value: util.FloatPtr(low), Unit: unit})
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func lookupUnit(raw string) (internal.SpecKind, string, bool) {
	lower := strings.ToLower(raw)
	for _, u := range specUnits {
		if lower == strings.ToLower(u.suffix) {
			return u.kind, u.unit, true
		}
	}
	return "", "", false
}

var (
	pinCountPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*-?\s*pins?\b`)
	packagePattern  = regexp.MustCompile(`(?i)\b(DIP|PDIP|SOIC|SOP|TSSOP|SSOP|TQFP|LQFP|QFN|QFP|BGA|SOT|TO)-?(\d{1,3})?\b|\b(0201|0402|0603|0805|1206|1210|2512)\b|\b(SMD|SMT)\b`)
)

func extractPackage(title string) (*string, *int) {
	var pkg *string
	var pins *int

	if m := packagePattern.FindStringSubmatch(title); m != nil {
		switch {
		case m[1] != "":
			p := strings.ToUpper(m[1])
			if m[2] != "" {
				p += "-" + m[2]
			}
			pkg = util.StringPtr(p)
			// DIP-8 style suffixes double as the pin count.
			if m[2] != "" && (strings.HasPrefix(p, "DIP") || strings.HasPrefix(p, "PDIP") || strings.HasPrefix(p, "SOIC")) {
				if n, err := strconv.Atoi(m[2]); err == nil {
					pins = util.IntPtr(n)
				}
			}
		case m[3] != "":
			pkg = util.StringPtr(m[3])
		case m[4] != "":
			pkg = util.StringPtr(strings.ToUpper(m[4]))
		}
	}

	if pins == nil {
		if m := pinCountPattern.FindStringSubmatch(title); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				pins = util.IntPtr(n)
			}
		}
	}

	return pkg, pins
}

var protocolVocab = map[string]string{
	"i2c":       "I2C",
	"iic":       "I2C",
	"i²c":      "I2C",
	"spi":       "SPI",
	"uart":      "UART",
	"usart":     "UART",
	"can":       "CAN",
	"rs232":     "RS232",
	"rs485":     "RS485",
	"onewire":   "1-Wire",
	"1-wire":    "1-Wire",
	"wifi":      "WiFi",
	"wi-fi":     "WiFi",
	"bluetooth": "Bluetooth",
	"ble":       "BLE",
	"zigbee":    "Zigbee",
	"lora":      "LoRa",
	"usb":       "USB",
	"modbus":    "Modbus",
}

func detectProtocols(tokens []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, t := range tokens {
		canonical, ok := protocolVocab[t]
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

const maxTags = 10

var tagStopwords = map[string]struct{}{
	"pcs": {}, "pc": {}, "set": {}, "lot": {}, "pack": {}, "new": {},
	"original": {}, "for": {}, "with": {}, "and": {}, "the": {}, "of": {},
	"high": {}, "quality": {}, "free": {}, "shipping": {}, "diy": {},
	"kit": {}, "per": {}, "style": {}, "type": {}, "color": {},
}

// deriveTags lowercases title tokens into tags, excluding stopwords, bare
// numbers and unit tokens already captured as structured specs.
func deriveTags(tokens []string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, t := range tokens {
		if len(t) < 2 || len(out) >= maxTags {
			continue
		}
		if _, stop := tagStopwords[t]; stop {
			continue
		}
		if isNumericOrUnit(t) {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isNumericOrUnit(t string) bool {
	if _, err := strconv.ParseFloat(t, 64); err == nil {
		return true
	}
	return specLikeToken.MatchString(strings.ToUpper(t))
}

// applyStructuredSpecs folds an item's key/value specification table into
// the candidate. Structured values win over title heuristics.
func applyStructuredSpecs(c *internal.ComponentCandidate, specs map[string]string) {
	if len(specs) == 0 {
		return
	}

	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	descParts := []string{}
	for _, k := range keys {
		v := strings.TrimSpace(specs[k])
		if v == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "part number", "part no", "model", "mpn":
			c.PartNumber = util.StringPtr(strings.ToUpper(v))
		case "manufacturer", "brand":
			c.Manufacturer = util.StringPtr(v)
		case "package", "package type", "case":
			c.PackageType = util.StringPtr(strings.ToUpper(v))
		case "pins", "pin count":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.PinCount = util.IntPtr(n)
			}
		default:
			if extra := extractElectricalSpecs(v); len(extra) > 0 {
				c.Specs = mergeSpecs(c.Specs, extra)
			} else {
				descParts = append(descParts, k+": "+v)
			}
		}
	}
	if len(descParts) > 0 {
		c.Description = strings.Join(descParts, "; ")
	}
}

func mergeSpecs(base, extra []internal.ElectricalSpec) []internal.ElectricalSpec {
	have := map[internal.SpecKind]struct{}{}
	for _, s := range base {
		have[s.Kind] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := have[s.Kind]; ok {
			continue
		}
		have[s.Kind] = struct{}{}
		base = append(base, s)
	}
	return base
}

func splitTokens(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		case r == '-', r == '²':
			return false
		default:
			return true
		}
	})
}
