package hostops

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// execCommand is stubbed in tests.
var execCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

var (
	// device header, e.g.
	// testvol2 (36000d31000d5f00000000000000000a6) dm-3 COMPELNT,Compellent Vol
	reMultipathDevice = regexp.MustCompile(`^(?P<alias>\S+)\s+\((?P<wwid>\w+)\)\s+dm-\d+\s+(?P<product>.*)$`)

	// path line, e.g.
	//   |- 34:0:0:1 sdg 8:96  active ready running
	reMultipathPath = regexp.MustCompile("^[\\s|`+-]*\\d+:\\d+:\\d+:\\d+\\s+(?P<disk>\\w+)\\s+\\d+:\\d+")
)

// MultipathDevice is one multipath map on the host.
type MultipathDevice struct {
	// Alias is the friendly name of the map (testvol1, mpatha, ...)
	Alias string
	// WWID is the SCSI identifier of the underlying volume. For
	// Compellent volumes this embeds the volume device ID.
	WWID string
	// Product is the vendor/product string reported by the array.
	Product string
	// Paths are the SCSI disks backing the map (sdg, sdh, ...)
	Paths []string
}

// IsCompellent reports whether the map is backed by a Compellent
// volume.
func (m MultipathDevice) IsCompellent() bool {
	return strings.HasPrefix(m.Product, "COMPELNT")
}

// ParseMultipathTopology parses the output of `multipath -ll` into
// the list of maps present on the host.
func ParseMultipathTopology(output string) []MultipathDevice {
	var devices []MultipathDevice
	for _, line := range strings.Split(output, "\n") {
		if match := reMultipathDevice.FindStringSubmatch(line); match != nil {
			devices = append(devices, MultipathDevice{
				Alias:   match[reMultipathDevice.SubexpIndex("alias")],
				WWID:    match[reMultipathDevice.SubexpIndex("wwid")],
				Product: strings.TrimSpace(match[reMultipathDevice.SubexpIndex("product")]),
			})
			continue
		}
		if len(devices) == 0 {
			continue
		}
		if match := reMultipathPath.FindStringSubmatch(line); match != nil {
			last := &devices[len(devices)-1]
			last.Paths = append(last.Paths, match[reMultipathPath.SubexpIndex("disk")])
		}
	}
	return devices
}

// MultipathTopology returns the multipath maps configured on the
// host. A missing or idle multipathd simply yields no maps.
func MultipathTopology() ([]MultipathDevice, error) {
	out, err := execCommand("multipath", "-ll")
	if err != nil {
		// no multipath configuration present
		return nil, nil
	}
	return ParseMultipathTopology(string(out)), nil
}

// FlushMultipathDevice removes a multipath map.
func FlushMultipathDevice(alias string) error {
	if _, err := execCommand("multipath", "-f", alias); err != nil {
		return errors.Wrapf(err, "flushing %s", alias)
	}
	return nil
}

// ResizeMultipathMaps asks multipathd to resize every map, after the
// underlying paths have been rescanned.
func ResizeMultipathMaps(verbose bool) error {
	out, err := execCommand("multipath", "-l", "-v", "1")
	if err != nil {
		return nil
	}

	for _, alias := range strings.Fields(string(out)) {
		if verbose {
			log.Printf("Resizing multipath device %s", alias)
		}
		if _, err := execCommand("multipathd", "resize", "map", alias); err != nil {
			return errors.Wrapf(err, "resizing map %s", alias)
		}
	}
	return nil
}

// ReloadMultipathd reloads the multipath daemon so a rewritten
// configuration takes effect.
func ReloadMultipathd(verbose bool) error {
	if verbose {
		log.Printf("Reloading multipath daemon.")
	}
	if _, err := execCommand("systemctl", "reload", "multipathd.service"); err != nil {
		return errors.Wrap(err, "reloading multipathd")
	}
	return nil
}

// WWIDAliases returns the current wwid to alias mappings of all
// Compellent backed multipath maps.
func WWIDAliases() (map[string]string, error) {
	topology, err := MultipathTopology()
	if err != nil {
		return nil, err
	}

	aliases := map[string]string{}
	for _, device := range topology {
		if device.IsCompellent() {
			aliases[device.WWID] = device.Alias
		}
	}
	return aliases, nil
}

var reAliasPair = regexp.MustCompile(`^(?P<wwid>\w+):(?P<alias>\w+)$`)

// ApplyAliasUpdates merges "wwid:alias" pairs into the current
// mapping. Aliases whose device is currently mounted are left
// untouched.
func ApplyAliasUpdates(current map[string]string, updates []string, mounted map[string]string, verbose bool) error {
	for _, pair := range updates {
		match := reAliasPair.FindStringSubmatch(pair)
		if match == nil {
			return errors.Errorf("%s does not match the 'wwid:alias' format", pair)
		}
		wwid := match[reAliasPair.SubexpIndex("wwid")]
		newAlias := match[reAliasPair.SubexpIndex("alias")]

		currentAlias, known := current[wwid]
		if known {
			if _, isMounted := mounted["/dev/mapper/"+currentAlias]; isMounted {
				if verbose {
					log.Printf("Refusing to change alias %s to %s because it is currently mounted!", currentAlias, newAlias)
				}
				continue
			}
		}
		current[wwid] = newAlias
	}
	return nil
}

// writeAliasEntries emits one multipath{} entry per wwid, sorted.
func writeAliasEntries(out *strings.Builder, aliases map[string]string) {
	wwids := make([]string, 0, len(aliases))
	for wwid := range aliases {
		wwids = append(wwids, wwid)
	}
	sort.Strings(wwids)
	for _, wwid := range wwids {
		fmt.Fprintf(out, "\tmultipath {\n")
		fmt.Fprintf(out, "\t\twwid\t%s\n", wwid)
		fmt.Fprintf(out, "\t\talias\t%s\n", aliases[wwid])
		fmt.Fprintf(out, "\t}\n")
	}
}

// RewriteAliasConfig rewrites the multipaths{} section of a multipath
// configuration file with the given wwid to alias mapping. All other
// sections pass through untouched; a file without a multipaths section
// gets one appended. Note that a successful run always rewrites the
// section with the full current mapping.
func RewriteAliasConfig(configPath string, aliases map[string]string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrapf(err, "reading %s", configPath)
	}

	var (
		out             strings.Builder
		sectionSeen     bool
		multipathsBlock bool
		bracketLevel    int
	)

	reMultipaths := regexp.MustCompile(`^\s*multipaths`)

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		// the final split element after a trailing newline is empty
		if i == len(lines)-1 && line == "" {
			break
		}

		if strings.Contains(line, "{") {
			bracketLevel++
		}
		if strings.Contains(line, "}") {
			bracketLevel--
			if multipathsBlock && bracketLevel == 0 {
				multipathsBlock = false
				out.WriteString(line + "\n")
				continue
			}
		}

		switch {
		case reMultipaths.MatchString(line) && strings.Contains(line, "{"):
			out.WriteString(line + "\n")
			sectionSeen = true
			multipathsBlock = true
			writeAliasEntries(&out, aliases)
		case multipathsBlock:
			// old multipath entries, replaced above
		default:
			out.WriteString(line + "\n")
		}
	}

	if !sectionSeen && len(aliases) > 0 {
		out.WriteString("multipaths {\n")
		writeAliasEntries(&out, aliases)
		out.WriteString("}\n")
	}

	info, err := os.Stat(configPath)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(configPath, []byte(out.String()), mode); err != nil {
		return errors.Wrapf(err, "writing %s", configPath)
	}
	return nil
}
