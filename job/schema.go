package job

import "github.com/xeipuuv/gojsonschema"

var JobRequestSchemaDefinition string = `{
	"type": "object",
	"properties": {
		"segments": {
			"items": {
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"image": {
						"properties": {
							"url": {"type": "string", "minLength": 1},
							"local_path": {"type": "string"}
						},
						"additionalProperties": false,
						"type": "object",
						"required": ["url"]
					},
					"video": {
						"properties": {
							"url": {"type": "string", "minLength": 1},
							"local_path": {"type": "string"}
						},
						"additionalProperties": false,
						"type": "object",
						"required": ["url"]
					},
					"voice_over": {
						"properties": {
							"url": {"type": "string", "minLength": 1},
							"local_path": {"type": "string"},
							"content": {"type": "string"},
							"start_delay": {"type": "number", "minimum": 0},
							"end_delay": {"type": "number", "minimum": 0}
						},
						"additionalProperties": false,
						"type": "object",
						"required": ["url"]
					},
					"text_over": {
						"items": {
							"properties": {
								"text": {"type": "string", "minLength": 1},
								"start": {"type": "number", "minimum": 0},
								"end": {"type": "number", "minimum": 0},
								"font": {"type": "string"},
								"size": {"type": "integer", "minimum": 1},
								"color": {"type": "string"},
								"position": {"type": "string"},
								"box": {"type": "boolean"}
							},
							"additionalProperties": false,
							"type": "object",
							"required": ["text", "start", "end"]
						},
						"type": "array"
					},
					"transition_in": {
						"properties": {
							"type": {"type": "string", "minLength": 1},
							"duration": {"type": "number", "minimum": 0}
						},
						"additionalProperties": false,
						"type": "object",
						"required": ["type"]
					},
					"transition_out": {
						"properties": {
							"type": {"type": "string", "minLength": 1},
							"duration": {"type": "number", "minimum": 0}
						},
						"additionalProperties": false,
						"type": "object",
						"required": ["type"]
					}
				},
				"additionalProperties": false,
				"type": "object",
				"required": ["id"],
				"anyOf": [
					{"required": ["image"]},
					{"required": ["video"]}
				]
			},
			"type": "array",
			"minItems": 1
		},
		"background_music": {
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"local_path": {"type": "string"},
				"volume": {"type": "number", "minimum": 0, "maximum": 2},
				"start_delay": {"type": "number", "minimum": 0},
				"end_delay": {"type": "number", "minimum": 0},
				"fade_in": {"type": "number", "minimum": 0},
				"fade_out": {"type": "number", "minimum": 0}
			},
			"additionalProperties": false,
			"type": "object",
			"required": ["url"]
		},
		"niche": {"type": "string"},
		"keywords": {
			"items": {"type": "string"},
			"type": "array"
		},
		"title": {"type": "string"},
		"description": {"type": "string"}
	},
	"additionalProperties": false,
	"required": ["segments"]
}`

func compileSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(JobRequestSchemaDefinition))
	if err != nil {
		// raise panic on program start
		panic(err) // fix schema text
	}
	return schema
}

// Run compile step on program start:
var compiledSchema *gojsonschema.Schema = compileSchema()

// ValidateSchema runs the structural phase only, returning the raw schema
// result so HTTP handlers can report individual violations.
func ValidateSchema(payload []byte) (*gojsonschema.Result, error) {
	return compiledSchema.Validate(gojsonschema.NewBytesLoader(payload))
}
