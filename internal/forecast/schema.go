package forecast

// Schema is a JSON Schema of the forecast document, for providers that
// support constrained output.
var Schema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"forecast_horizon_weeks": map[string]interface{}{"type": "integer", "minimum": 1},
		"predictions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"week_start":     map[string]interface{}{"type": "string"},
					"expected_count": map[string]interface{}{"type": "integer", "minimum": 0},
					"expected_count_ci": map[string]interface{}{
						"type":     "array",
						"items":    map[string]interface{}{"type": "integer"},
						"minItems": 2,
						"maxItems": 2,
					},
					"spike_probability": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
					"top_signals": map[string]interface{}{
						"type":     "array",
						"maxItems": 5,
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"signal_type": map[string]interface{}{"type": "string", "enum": []string{"cve", "tag", "country"}},
								"id":          map[string]interface{}{"type": "string"},
								"score":       map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
							},
							"required": []interface{}{"signal_type", "id", "score"},
						},
					},
					"confidence":  map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
					"explanation": map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"week_start", "expected_count", "expected_count_ci", "spike_probability", "top_signals", "confidence"},
			},
		},
		"predicted_threat_types": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"threat_type": map[string]interface{}{"type": "string"},
					"probability": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
		"monthly_predicted_attacks": map[string]interface{}{"type": "integer", "minimum": 0},
		"key_signals_user_friendly": map[string]interface{}{
			"type":     "array",
			"maxItems": 8,
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"label": map[string]interface{}{"type": "string"},
					"type":  map[string]interface{}{"type": "string"},
					"score": map[string]interface{}{"type": "number"},
				},
			},
		},
		"metadata": map[string]interface{}{"type": "object"},
	},
	"required": []interface{}{"forecast_horizon_weeks", "predictions"},
}
