package elasticsearch

// DefaultIndexName is the default Elasticsearch index used for product documents.
const DefaultIndexName = "catalog_products"

// buildIndexMapping returns the full JSON mapping for the products index.
// Attributes are nested so attribute id and value match on the same entry;
// name carries an edge n-gram subfield for autocomplete.
func buildIndexMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "catalog_text": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        },
        "autocomplete_analyzer": {
          "type": "custom",
          "tokenizer": "autocomplete_tokenizer",
          "filter": ["lowercase", "asciifolding"]
        },
        "autocomplete_search": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        }
      },
      "tokenizer": {
        "autocomplete_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 2,
          "max_gram": 20,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id":                { "type": "keyword" },
      "name":              { "type": "text", "analyzer": "catalog_text", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 }, "autocomplete": { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" } } },
      "slug":              { "type": "keyword" },
      "short_description": { "type": "text", "analyzer": "catalog_text" },
      "description":       { "type": "text", "analyzer": "catalog_text" },
      "thumbnail":         { "type": "keyword", "index": false },
      "min_price":         { "type": "long" },
      "max_price":         { "type": "long" },
      "average_rating":    { "type": "float" },
      "review_count":      { "type": "integer" },
      "sold_count":        { "type": "long" },
      "view_count":        { "type": "long" },
      "is_active":         { "type": "boolean" },
      "is_deleted":        { "type": "boolean" },
      "category_id":       { "type": "keyword" },
      "category_name":     { "type": "text", "analyzer": "catalog_text", "fields": { "keyword": { "type": "keyword" } } },
      "category_path":     { "type": "keyword" },
      "brand_id":          { "type": "keyword" },
      "brand_name":        { "type": "text", "analyzer": "catalog_text", "fields": { "keyword": { "type": "keyword" } } },
      "store_id":          { "type": "keyword" },
      "store_name":        { "type": "text", "analyzer": "catalog_text", "fields": { "keyword": { "type": "keyword" } } },
      "store_categories": {
        "properties": {
          "id":   { "type": "keyword" },
          "name": { "type": "text", "analyzer": "catalog_text" }
        }
      },
      "variants": {
        "properties": {
          "id":             { "type": "keyword" },
          "sku":            { "type": "keyword" },
          "name":           { "type": "text", "analyzer": "catalog_text" },
          "price":          { "type": "long" },
          "original_price": { "type": "long" },
          "stock":          { "type": "long" },
          "metadata_text":  { "type": "text", "analyzer": "catalog_text" },
          "metadata":       { "type": "object", "enabled": false }
        }
      },
      "attributes": {
        "type": "nested",
        "properties": {
          "attribute_id":   { "type": "keyword" },
          "attribute_name": { "type": "keyword" },
          "value_id":       { "type": "keyword" },
          "value":          { "type": "keyword" }
        }
      },
      "spec_text": { "type": "text", "analyzer": "catalog_text" },
      "specs":     { "type": "object", "enabled": false },
      "selection_options": {
        "properties": {
          "group_id":   { "type": "keyword" },
          "group_name": { "type": "text", "analyzer": "catalog_text" },
          "option_id":  { "type": "keyword" },
          "label":      { "type": "text", "analyzer": "catalog_text" },
          "value":      { "type": "text", "analyzer": "catalog_text" }
        }
      },
      "suggest": {
        "properties": {
          "input":  { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" },
          "weight": { "type": "integer" }
        }
      },
      "created_at": { "type": "date" },
      "updated_at": { "type": "date" }
    }
  }
}`
}
