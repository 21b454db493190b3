// Package snmptranslate turns numeric OIDs into the module-qualified names
// used in trap dumps, e.g. ".1.3.6.1.2.1.1.5.0" becomes "SNMPv2-MIB::sysName.0".
//
// Names come from a built-in table of the standard objects that appear in
// every trap (sysUpTimeInstance, snmpTrapOID, sysName, ifDescr, ifIndex and
// the generic traps) and from MIB files loaded from a directory. Vendor MIBs
// such as ADTRAN-GENGPON-MIB are only known once their files are loaded.
//
// Basic Usage:
//
//	translator := snmptranslate.New()
//	if err := translator.Init("/usr/share/snmp/mibs"); err != nil {
//		log.Fatal(err)
//	}
//
//	name, err := translator.Translate(".1.3.6.1.2.1.2.2.1.2.1647320064")
//	if err != nil {
//		log.Printf("translation failed: %v", err)
//	}
//	// name == "IF-MIB::ifDescr.1647320064"
//
// Translation picks the longest known prefix of the OID and appends the
// remaining arcs as the instance suffix. Results are kept in an LRU cache.
package snmptranslate

import (
	"container/list"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Translator provides MIB-based OID translation functionality.
type Translator interface {
	// Init initializes the translator with MIB files from the specified directory.
	// An empty directory initializes the built-in table only.
	Init(mibDir string) error

	// Translate converts an OID string to its module-qualified name
	Translate(oid string) (string, error)

	// TranslateBatch translates multiple OIDs
	TranslateBatch(oids []string) (map[string]string, error)

	// LoadMIB loads a specific MIB file
	LoadMIB(filename string) error

	// LoadMIBText loads MIB definitions held in memory under the given name
	LoadMIBText(name, content string) error

	// GetStats returns translation statistics
	GetStats() Stats

	// Close releases resources and cleans up
	Close() error
}

// Stats provides statistics about the translator's performance and state.
type Stats struct {
	LoadedMIBs       int           `json:"loaded_mibs"`
	TotalOIDs        int           `json:"total_oids"`
	CacheHits        int64         `json:"cache_hits"`
	CacheMisses      int64         `json:"cache_misses"`
	CachedEntries    int           `json:"cached_entries"`
	CacheEvictions   int64         `json:"cache_evictions"`
	TranslationCount int64         `json:"translation_count"`
	AverageLatency   time.Duration `json:"average_latency"`
}

// OIDEntry represents a single OID definition taken from a MIB.
type OIDEntry struct {
	OID    string `json:"oid"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Module string `json:"module,omitempty"`
}

// QualifiedName returns the entry name in MODULE::name form.
func (e OIDEntry) QualifiedName() string {
	if e.Module == "" {
		return e.Name
	}
	return e.Module + "::" + e.Name
}

// builtinEntries are the standard objects carried by every trap dump.
var builtinEntries = []OIDEntry{
	{OID: ".1.3.6.1.2.1.1.3.0", Name: "sysUpTimeInstance", Module: "DISMAN-EVENT-MIB"},
	{OID: ".1.3.6.1.2.1.1.3", Name: "sysUpTime", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.2.1.1.5", Name: "sysName", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.2.1.2.2.1.1", Name: "ifIndex", Module: "IF-MIB"},
	{OID: ".1.3.6.1.2.1.2.2.1.2", Name: "ifDescr", Module: "IF-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.4.1", Name: "snmpTrapOID", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.4.3", Name: "snmpTrapEnterprise", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.5.1", Name: "coldStart", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.5.2", Name: "warmStart", Module: "SNMPv2-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.5.3", Name: "linkDown", Module: "IF-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.5.4", Name: "linkUp", Module: "IF-MIB"},
	{OID: ".1.3.6.1.6.3.1.1.5.5", Name: "authenticationFailure", Module: "SNMPv2-MIB"},
}

// rootSymbols seeds name resolution for `::= { parent n }` clauses.
var rootSymbols = map[string]string{
	"iso":          ".1",
	"org":          ".1.3",
	"dod":          ".1.3.6",
	"internet":     ".1.3.6.1",
	"directory":    ".1.3.6.1.1",
	"mgmt":         ".1.3.6.1.2",
	"mib-2":        ".1.3.6.1.2.1",
	"system":       ".1.3.6.1.2.1.1",
	"interfaces":   ".1.3.6.1.2.1.2",
	"experimental": ".1.3.6.1.3",
	"private":      ".1.3.6.1.4",
	"enterprises":  ".1.3.6.1.4.1",
	"security":     ".1.3.6.1.5",
	"snmpV2":       ".1.3.6.1.6",
	"snmpDomains":  ".1.3.6.1.6.1",
	"snmpProxys":   ".1.3.6.1.6.2",
	"snmpModules":  ".1.3.6.1.6.3",
}

// =============================================================================
// OID Trie
// =============================================================================

// OIDTrie stores OID definitions keyed by their numeric arcs and answers
// exact, prefix and longest-prefix queries.
type OIDTrie struct {
	mu   sync.RWMutex
	root *TrieNode
	size int
}

// TrieNode represents a single node in the OID trie.
type TrieNode struct {
	children map[int]*TrieNode
	name     string
	isLeaf   bool
	depth    int
}

// NewOIDTrie creates an empty trie.
func NewOIDTrie() *OIDTrie {
	return &OIDTrie{root: newTrieNode(0)}
}

func newTrieNode(depth int) *TrieNode {
	return &TrieNode{children: make(map[int]*TrieNode), depth: depth}
}

// Insert stores name under oid, replacing any previous name.
func (t *OIDTrie) Insert(oid, name string) error {
	arcs, err := parseArcs(oid)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, arc := range arcs {
		child, ok := node.children[arc]
		if !ok {
			child = newTrieNode(node.depth + 1)
			node.children[arc] = child
		}
		node = child
	}
	if !node.isLeaf {
		t.size++
	}
	node.isLeaf = true
	node.name = name
	return nil
}

// Lookup returns the name stored at exactly oid, or "".
func (t *OIDTrie) Lookup(oid string) string {
	arcs, err := parseArcs(oid)
	if err != nil {
		return ""
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	for _, arc := range arcs {
		next, ok := node.children[arc]
		if !ok {
			return ""
		}
		node = next
	}
	if !node.isLeaf {
		return ""
	}
	return node.name
}

// LookupLongest returns the name of the longest stored prefix of oid and the
// arcs left over after it.
func (t *OIDTrie) LookupLongest(oid string) (name string, rest []int, ok bool) {
	arcs, err := parseArcs(oid)
	if err != nil {
		return "", nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.root
	matched := -1
	for i, arc := range arcs {
		next, exists := node.children[arc]
		if !exists {
			break
		}
		node = next
		if node.isLeaf {
			name = node.name
			matched = i
		}
	}
	if matched < 0 {
		return "", nil, false
	}
	return name, arcs[matched+1:], true
}

// Size returns the number of stored OIDs.
func (t *OIDTrie) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// =============================================================================
// Cache
// =============================================================================

// Cache is a thread-safe LRU cache of translations.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List
	stats    CacheStats
}

// CacheEntry represents a single entry in the cache.
type CacheEntry struct {
	key      string
	value    string
	hitCount int64
}

// CacheStats provides statistics about cache performance.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	HitRatio  float64 `json:"hit_ratio"`
}

// NewCache creates a cache holding up to capacity entries. A non-positive
// capacity disables caching.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	c.lruList.MoveToFront(elem)
	entry := elem.Value.(*CacheEntry)
	entry.hitCount++
	c.stats.Hits++
	return entry.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *Cache) Set(key, value string) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*CacheEntry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.capacity {
		if oldest := c.lruList.Back(); oldest != nil {
			c.lruList.Remove(oldest)
			delete(c.items, oldest.Value.(*CacheEntry).key)
			c.stats.Evictions++
		}
	}
	c.items[key] = c.lruList.PushFront(&CacheEntry{key: key, value: value})
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.lruList.Init()
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.lruList.Len()
	stats.Capacity = c.capacity
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}
	return stats
}

// =============================================================================
// MIB Parser
// =============================================================================

// MIBParser extracts OID definitions from SMI module text. It understands
// OBJECT-TYPE, NOTIFICATION-TYPE, MODULE-IDENTITY, OBJECT-IDENTITY,
// OBJECT-GROUP, NOTIFICATION-GROUP and plain OBJECT IDENTIFIER assignments.
type MIBParser struct {
	moduleRegex     *regexp.Regexp
	definitionRegex *regexp.Regexp
	arcRegex        *regexp.Regexp

	currentModule string
	oidContext    map[string]string // symbolic name -> numeric OID
}

// NewMIBParser creates a parser seeded with the well-known tree roots.
func NewMIBParser() *MIBParser {
	p := &MIBParser{
		moduleRegex: regexp.MustCompile(`(?m)^\s*([A-Za-z][\w-]*)\s+DEFINITIONS\s*::=\s*BEGIN`),
		definitionRegex: regexp.MustCompile(
			`(?s)(?:^|\s)([a-z][\w-]*)\s+(OBJECT-TYPE|NOTIFICATION-TYPE|MODULE-IDENTITY|OBJECT-IDENTITY|OBJECT-GROUP|NOTIFICATION-GROUP|OBJECT\s+IDENTIFIER)\b(.*?)::=\s*\{([^}]*)\}`),
		arcRegex:   regexp.MustCompile(`^(?:[A-Za-z][\w-]*)?\((\d+)\)$`),
		oidContext: make(map[string]string, len(rootSymbols)),
	}
	for name, oid := range rootSymbols {
		p.oidContext[name] = oid
	}
	return p
}

// Seed adds symbols defined elsewhere (typically by imported modules).
func (p *MIBParser) Seed(symbols map[string]string) {
	for name, oid := range symbols {
		if _, exists := p.oidContext[name]; !exists {
			p.oidContext[name] = oid
		}
	}
}

// Symbols returns every symbol the parser can resolve.
func (p *MIBParser) Symbols() map[string]string {
	out := make(map[string]string, len(p.oidContext))
	for k, v := range p.oidContext {
		out[k] = v
	}
	return out
}

// ParseFile reads and parses a MIB file.
func (p *MIBParser) ParseFile(filename string) ([]OIDEntry, error) {
	content, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read MIB file: %w", err)
	}
	return p.Parse(string(content))
}

type pendingDefinition struct {
	name   string
	kind   string
	clause string
}

// Parse extracts the OID definitions from MIB text. Definitions may refer to
// parents declared later in the same module.
func (p *MIBParser) Parse(content string) ([]OIDEntry, error) {
	m := p.moduleRegex.FindStringSubmatch(content)
	if m == nil {
		return nil, errors.New("no module definition found")
	}
	p.currentModule = m[1]

	var pending []pendingDefinition
	for _, d := range p.definitionRegex.FindAllStringSubmatch(content, -1) {
		pending = append(pending, pendingDefinition{
			name:   d[1],
			kind:   strings.Join(strings.Fields(d[2]), " "),
			clause: d[4],
		})
	}

	var entries []OIDEntry
	for len(pending) > 0 {
		var unresolved []pendingDefinition
		for _, def := range pending {
			oid, ok := p.resolve(def.clause)
			if !ok {
				unresolved = append(unresolved, def)
				continue
			}
			p.oidContext[def.name] = oid
			entries = append(entries, OIDEntry{
				OID:    oid,
				Name:   def.name,
				Type:   def.kind,
				Module: p.currentModule,
			})
		}
		if len(unresolved) == len(pending) {
			break
		}
		pending = unresolved
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no resolvable OID definitions in module %s", p.currentModule)
	}
	return entries, nil
}

// resolve turns the inside of `{ parent 4 5 }` into a numeric OID.
func (p *MIBParser) resolve(clause string) (string, bool) {
	tokens := strings.Fields(clause)
	if len(tokens) == 0 {
		return "", false
	}

	var b strings.Builder
	for i, tok := range tokens {
		if n, err := strconv.Atoi(tok); err == nil {
			b.WriteString("." + strconv.Itoa(n))
			continue
		}
		if m := p.arcRegex.FindStringSubmatch(tok); m != nil {
			b.WriteString("." + m[1])
			continue
		}
		if i != 0 {
			return "", false
		}
		parent, ok := p.oidContext[tok]
		if !ok {
			return "", false
		}
		b.WriteString(parent)
	}
	return b.String(), true
}

// =============================================================================
// Translator
// =============================================================================

// translator implements the Translator interface.
type translator struct {
	mu          sync.RWMutex
	mibDir      string
	trie        *OIDTrie
	cache       *Cache
	symbols     map[string]string
	loadedMIBs  map[string]bool
	stats       Stats
	initialized bool
	lazyLoading bool
	dirLoaded   bool
}

// Config holds configuration options for the translator.
type Config struct {
	LazyLoading  bool `json:"lazy_loading"`
	MaxCacheSize int  `json:"max_cache_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LazyLoading:  true,
		MaxCacheSize: 10000,
	}
}

// New creates a new translator with default configuration.
func New() Translator {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new translator with the specified configuration.
func NewWithConfig(config Config) Translator {
	t := &translator{
		cache:       NewCache(config.MaxCacheSize),
		lazyLoading: config.LazyLoading,
	}
	t.reset()
	return t
}

// reset restores the built-in state. Callers hold t.mu or own t exclusively.
func (t *translator) reset() {
	t.trie = NewOIDTrie()
	t.symbols = make(map[string]string)
	t.loadedMIBs = make(map[string]bool)
	for _, e := range builtinEntries {
		_ = t.trie.Insert(e.OID, e.QualifiedName())
		t.symbols[e.Name] = e.OID
	}
	t.stats = Stats{TotalOIDs: len(builtinEntries)}
	t.dirLoaded = false
}

// Init initializes the translator with MIB files from mibDir.
func (t *translator) Init(mibDir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return errors.New("translator already initialized")
	}

	if mibDir != "" {
		if _, err := os.Stat(mibDir); os.IsNotExist(err) {
			return fmt.Errorf("MIB directory does not exist: %s", mibDir)
		}
	}
	t.mibDir = mibDir

	if !t.lazyLoading {
		if err := t.loadAllMIBs(); err != nil {
			return err
		}
	}
	t.initialized = true
	return nil
}

// Translate converts an OID string to its module-qualified name.
func (t *translator) Translate(oid string) (string, error) {
	t.mu.RLock()
	initialized := t.initialized
	needsLoad := t.lazyLoading && !t.dirLoaded && t.mibDir != ""
	t.mu.RUnlock()

	if !initialized {
		return "", errors.New("translator not initialized")
	}

	if needsLoad {
		t.mu.Lock()
		if !t.dirLoaded {
			// Unreadable files are skipped; a failed walk leaves the built-ins.
			_ = t.loadAllMIBs()
		}
		t.mu.Unlock()
	}

	start := time.Now()
	defer func() {
		t.updateStats(time.Since(start))
	}()

	normalized := normalizeOID(oid)

	if cached, found := t.cache.Get(normalized); found {
		t.mu.Lock()
		t.stats.CacheHits++
		t.mu.Unlock()
		return cached, nil
	}

	t.mu.Lock()
	t.stats.CacheMisses++
	trie := t.trie
	t.mu.Unlock()

	name, rest, ok := trie.LookupLongest(normalized)
	if !ok {
		return normalized, fmt.Errorf("OID not found: %s", normalized)
	}

	qualified := name
	if len(rest) > 0 {
		qualified += formatArcs(rest)
	}
	t.cache.Set(normalized, qualified)
	return qualified, nil
}

// TranslateBatch translates multiple OIDs. Every OID appears in the result;
// failures keep their numeric form and are reported together.
func (t *translator) TranslateBatch(oids []string) (map[string]string, error) {
	t.mu.RLock()
	initialized := t.initialized
	t.mu.RUnlock()
	if !initialized {
		return nil, errors.New("translator not initialized")
	}

	result := make(map[string]string, len(oids))
	var failures []string

	for _, oid := range oids {
		name, err := t.Translate(oid)
		result[oid] = name
		if err != nil {
			failures = append(failures, fmt.Sprintf("OID %s: %v", oid, err))
		}
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("batch translation errors: %s", strings.Join(failures, "; "))
	}
	return result, nil
}

// LoadMIB loads a specific MIB file.
func (t *translator) LoadMIB(filename string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadMIBFile(filename); err != nil {
		return fmt.Errorf("failed to parse MIB file %s: %w", filename, err)
	}
	t.cache.Clear()
	return nil
}

// LoadMIBText loads MIB definitions from content, registered under name.
func (t *translator) LoadMIBText(name, content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.loadMIB(name, func(p *MIBParser) ([]OIDEntry, error) {
		return p.Parse(content)
	}); err != nil {
		return fmt.Errorf("failed to parse MIB %s: %w", name, err)
	}
	t.cache.Clear()
	return nil
}

// GetStats returns translation statistics.
func (t *translator) GetStats() Stats {
	t.mu.RLock()
	stats := t.stats
	t.mu.RUnlock()

	cache := t.cache.GetStats()
	stats.CachedEntries = cache.Size
	stats.CacheEvictions = cache.Evictions
	return stats
}

// Close releases resources and cleans up.
func (t *translator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cache.Clear()
	t.reset()
	t.mibDir = ""
	t.initialized = false
	return nil
}

// loadAllMIBs parses every MIB file under the directory. Files whose parents
// live in other files are retried until no more progress is made.
func (t *translator) loadAllMIBs() error {
	t.dirLoaded = true
	if t.mibDir == "" {
		return nil
	}

	files, err := t.mibFiles()
	if err != nil {
		return fmt.Errorf("failed to list MIB files in %s: %w", t.mibDir, err)
	}

	for len(files) > 0 {
		var retry []string
		for _, f := range files {
			if err := t.loadMIBFile(f); err != nil {
				retry = append(retry, f)
			}
		}
		if len(retry) == len(files) {
			break
		}
		files = retry
	}
	t.cache.Clear()
	return nil
}

// loadMIBFile parses one file into the trie. Callers hold t.mu.
func (t *translator) loadMIBFile(filename string) error {
	return t.loadMIB(filename, func(p *MIBParser) ([]OIDEntry, error) {
		return p.ParseFile(filename)
	})
}

func (t *translator) loadMIB(key string, parse func(*MIBParser) ([]OIDEntry, error)) error {
	if t.loadedMIBs[key] {
		return nil
	}

	parser := NewMIBParser()
	parser.Seed(t.symbols)
	entries, err := parse(parser)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := t.trie.Insert(entry.OID, entry.QualifiedName()); err != nil {
			return err
		}
		t.symbols[entry.Name] = entry.OID
	}

	t.loadedMIBs[key] = true
	t.stats.LoadedMIBs++
	t.stats.TotalOIDs += len(entries)
	return nil
}

// mibFiles lists the MIB files under the directory in name order.
func (t *translator) mibFiles() ([]string, error) {
	var files []string
	err := filepath.Walk(t.mibDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isMIBFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// updateStats updates translation statistics.
func (t *translator) updateStats(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.TranslationCount++

	// EMA with alpha = 0.1
	if t.stats.AverageLatency == 0 {
		t.stats.AverageLatency = duration
	} else {
		t.stats.AverageLatency = time.Duration(
			0.9*float64(t.stats.AverageLatency) + 0.1*float64(duration),
		)
	}
}

// isMIBFile checks if a file is likely a MIB file based on its extension.
func isMIBFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".mib" || ext == ".my" || ext == ".txt" || ext == ""
}

// normalizeOID ensures a leading dot.
func normalizeOID(oid string) string {
	oid = strings.TrimSpace(oid)
	if oid == "" || strings.HasPrefix(oid, ".") {
		return oid
	}
	return "." + oid
}

func parseArcs(oid string) ([]int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(oid), ".")
	if trimmed == "" {
		return nil, errors.New("empty OID")
	}
	parts := strings.Split(trimmed, ".")
	arcs := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q: bad arc %q", oid, part)
		}
		arcs[i] = n
	}
	return arcs, nil
}

func formatArcs(arcs []int) string {
	var b strings.Builder
	for _, a := range arcs {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(a))
	}
	return b.String()
}
