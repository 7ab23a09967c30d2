package refs

import (
	"regexp"
	"strings"

	"github.com/stratahq/strata/internal/models"
)

// embeddedARNPattern locates ARNs inside larger strings such as inline IAM
// policy documents. Terminators are whitespace, quotes, and commas.
var embeddedARNPattern = regexp.MustCompile(`arn:[a-z-]+:[a-z0-9-]+:[a-z0-9-]*:[0-9]*:[^\s"',\\]+`)

// knownPartitions is the accepted AWS partition set.
var knownPartitions = map[string]bool{
	"aws":     true,
	"aws-cn":  true,
	"aws-gov": true,
}

// ARNExtractor emits AWS ARN references. With crossRegion set, region and
// account are blanked in the normalized identifier so the same bucket
// declared in two regions still matches.
type ARNExtractor struct {
	BaseExtractor
	crossRegion bool
}

// NewARNExtractor creates an ARN extractor.
func NewARNExtractor(crossRegion bool) *ARNExtractor {
	return &ARNExtractor{
		BaseExtractor: NewBaseExtractor(TypeARN),
		crossRegion:   crossRegion,
	}
}

// Applies enables the extractor only for AWS-flavored node types.
func (e *ARNExtractor) Applies(node models.Node) bool {
	t := strings.ToLower(node.Type)
	return strings.HasPrefix(t, "aws_") || strings.Contains(t, "aws")
}

// Extract scans every string metadata leaf for ARNs: whole-value ARNs are
// emitted at full confidence, ARNs embedded in policy strings at reduced
// confidence. Wildcard ARNs identify grants, not objects, and are skipped.
func (e *ARNExtractor) Extract(node models.Node) []ExternalReference {
	var out []ExternalReference
	for _, value := range node.Metadata {
		for _, s := range stringMetadataValues(value) {
			trimmed := strings.TrimSpace(s)
			if models.ARNPattern.MatchString(trimmed) {
				if strings.Contains(trimmed, "*") {
					continue
				}
				out = append(out, e.newRef(trimmed, 1.0))
				continue
			}
			// Scan-and-extract for ARNs inside longer strings.
			for _, match := range embeddedARNPattern.FindAllString(trimmed, -1) {
				if strings.Contains(match, "*") || !models.ARNPattern.MatchString(match) {
					continue
				}
				out = append(out, e.newRef(match, 0.8))
			}
		}
	}
	return DedupeByHash(out)
}

func (e *ARNExtractor) newRef(identifier string, confidence float64) ExternalReference {
	ref := NewReference(TypeARN, identifier, e.Normalize, "aws", confidence)
	if comps, ok := e.ParseComponents(identifier); ok {
		ref = ref.WithAttribute("service", comps["service"])
		if comps["region"] != "" {
			ref = ref.WithAttribute("region", comps["region"])
		}
		if comps["account"] != "" {
			ref = ref.WithAttribute("account", comps["account"])
		}
	}
	return ref
}

// Normalize lowercases and trims the ARN and, in cross-region mode, blanks
// the region and account segments. Inputs that do not parse are returned
// lowercased and trimmed so the function stays total and idempotent.
func (e *ARNExtractor) Normalize(identifier string) string {
	s := strings.ToLower(strings.TrimSpace(identifier))
	if !e.crossRegion {
		return s
	}
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return s
	}
	parts[3] = ""
	parts[4] = ""
	return strings.Join(parts, ":")
}

// ParseComponents decomposes an ARN into partition, service, region,
// account, and resource. Both "service:resource:id" and
// "service/resource/id" resource shapes are handled.
func (e *ARNExtractor) ParseComponents(identifier string) (Components, bool) {
	s := strings.TrimSpace(identifier)
	if !models.ARNPattern.MatchString(strings.ToLower(s)) {
		return nil, false
	}
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 {
		return nil, false
	}

	comps := Components{
		"partition": strings.ToLower(parts[1]),
		"service":   strings.ToLower(parts[2]),
		"region":    strings.ToLower(parts[3]),
		"account":   parts[4],
		"resource":  parts[5],
	}

	// Decompose the resource segment. S3 buckets and IAM entities omit
	// region and/or account; the grammar already allows that.
	resource := parts[5]
	switch {
	case strings.Contains(resource, "/"):
		segs := strings.SplitN(resource, "/", 2)
		comps["resourceType"] = segs[0]
		comps["resourceId"] = segs[1]
	case strings.Contains(resource, ":"):
		segs := strings.SplitN(resource, ":", 2)
		comps["resourceType"] = segs[0]
		comps["resourceId"] = segs[1]
	default:
		comps["resourceId"] = resource
	}

	return comps, true
}

// KnownPartition reports whether the partition is one of aws, aws-cn,
// aws-gov.
func KnownPartition(partition string) bool {
	return knownPartitions[strings.ToLower(partition)]
}
