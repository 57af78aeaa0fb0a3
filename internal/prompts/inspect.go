package prompts

// DefaultInspect is the analysis prompt used by the inspect_asset tool
// when the model does not supply one. It is tuned for the editing
// workflow: timestamps and edit points matter more than prose.
const DefaultInspect = `Analyze this asset thoroughly for video editing purposes:
1. Describe the overall content and mood.
2. List key scenes/moments with timestamps (MM:SS format).
3. Note any dialogue, text overlays, or audio cues.
4. Identify visual elements: colors, composition, transitions.
5. Suggest potential edit points or highlights.`
