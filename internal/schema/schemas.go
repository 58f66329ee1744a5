package schema

// JSON Schemas for the two model payloads. Structural shape lives here;
// cross-field rules (id completeness, anchoring) are checked in Go.

const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["paper_id", "title", "abstract", "keywords", "sections"],
  "properties": {
    "paper_id": {"type": "string", "minLength": 1},
    "title": {"type": "string", "minLength": 1},
    "abstract": {"type": "string"},
    "keywords": {
      "type": "array",
      "items": {"type": "string"}
    },
    "topics": {
      "type": "array",
      "items": {"type": "string"}
    },
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "level"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "level": {"type": "integer", "minimum": 1, "maximum": 6}
        }
      }
    },
    "authors": {"type": "array", "items": {"type": "string"}},
    "affiliations": {"type": "array", "items": {"type": "string"}},
    "doi": {"type": "string"},
    "journal": {"type": "string"},
    "publication_date": {"type": "string"}
  }
}`

const batchSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["annotations"],
  "properties": {
    "annotations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["element_id", "caption", "anchor", "confidence"],
        "properties": {
          "element_id": {"type": "string", "minLength": 1},
          "caption": {"type": "string"},
          "figure_type": {"type": "string"},
          "variables": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["symbol", "meaning"],
              "properties": {
                "symbol": {"type": "string"},
                "meaning": {"type": "string"},
                "unit": {"type": "string"}
              }
            }
          },
          "axis": {
            "type": "object",
            "properties": {
              "x_label": {"type": "string"},
              "y_label": {"type": "string"}
            }
          },
          "key_findings": {"type": "array", "items": {"type": "string"}},
          "table_csv": {"type": "string"},
          "anchor": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`
