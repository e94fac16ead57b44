package imagegen

import (
	"fmt"
	"regexp"
	"strings"
)

// Generation keywords that mark a prompt as already asking for an image.
// The UI accepts English and Russian prompts, so both languages are covered.
var generationKeywords = []string{
	"generate", "создать", "сделать", "сгенерируй", "сгенерировать",
	"изображение", "image", "картинка", "picture", "фото", "photo",
	"draw", "рисовать", "нарисовать", "нарисуй",
	"create", "создай", "создавать",
	"design", "дизайн", "спроектировать",
	"icon", "иконка", "favicon", "фавикон",
	"logo", "логотип", "лого",
}

var commandPrefixes = []string{
	"generate", "create", "draw", "make", "создать", "сделать", "нарисовать",
}

var imageNouns = []string{"image", "изображение", "картинка"}

var steeringPhrases = []string{
	"based on", "using the reference", "preserve", "reference image",
}

// Mentions like "ref 1" or "реф 1" are normalized to "reference image 1" so
// the provider maps them to position unambiguously.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)реф\s*(\d+)`),
	regexp.MustCompile(`(?i)референс\s*(\d+)`),
	regexp.MustCompile(`(?i)референса\s*(\d+)`),
	regexp.MustCompile(`(?i)референсом\s*(\d+)`),
	regexp.MustCompile(`(?i)ref\s*(\d+)`),
}

// AugmentTextToImage rewrites a bare text-to-image prompt so the provider
// cannot mistake the intent. Prompts that already carry an explicit
// generation instruction pass through unchanged.
func AugmentTextToImage(prompt string) string {
	lower := strings.ToLower(strings.TrimSpace(prompt))

	hasKeyword := false
	for _, kw := range generationKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			break
		}
	}
	startsWithCommand := false
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(lower, prefix) {
			startsWithCommand = true
			break
		}
	}

	if hasKeyword && startsWithCommand {
		return prompt
	}
	if !startsWithCommand {
		return "Generate an image of " + prompt
	}
	// Starts with a generation command but never names an image: append a
	// clarifier instead of double-prefixing.
	for _, noun := range imageNouns {
		if strings.Contains(lower, noun) {
			return prompt
		}
	}
	return prompt + ", high quality image"
}

// AugmentWithReferences rewrites a prompt for a request carrying numRefs
// reference images: positional mentions are normalized and a disambiguation
// preamble is prepended.
func AugmentWithReferences(prompt string, numRefs int) string {
	if numRefs <= 0 {
		return prompt
	}

	enhanced := prompt
	for _, pattern := range referencePatterns {
		enhanced = pattern.ReplaceAllString(enhanced, "reference image $1")
	}

	if numRefs > 1 {
		preamble := fmt.Sprintf(
			"IMPORTANT: You have %d reference images. "+
				"When the prompt mentions 'reference image 1' or 'ref 1', use the FIRST reference image. "+
				"When it mentions 'reference image 2' or 'ref 2', use the SECOND reference image. "+
				"And so on for the remaining reference images. "+
				"Follow the prompt instructions carefully for which reference to use for which element. ",
			numRefs,
		)
		return preamble + enhanced
	}

	lower := strings.ToLower(prompt)
	for _, phrase := range steeringPhrases {
		if strings.Contains(lower, phrase) {
			return enhanced
		}
	}
	return "STRICT INSTRUCTIONS: Use the reference image as the EXACT base. " +
		"Preserve EVERYTHING: exact same person, identical facial features, same age, " +
		"same gender, same body type, same pose, same clothing, same background. " +
		"ONLY modify according to: " + enhanced + "."
}
