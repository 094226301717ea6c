// Package lakelift provides a partitioned extract-load engine: it reads
// tables from relational and document datasources, writes them as
// Hive-partitioned CSV objects in object storage, and keeps a data
// catalog's tables, partitions and views in sync with what was written.
//
// # Architecture
//
// A run is planned and executed per table:
//
//  1. Partition planning: the distinct partition-value combinations of
//     the table are discovered in the source, optionally narrowed to an
//     incremental lookback window.
//  2. Extraction and layout: each planned partition is extracted with a
//     scoped query and written whole to the object store under a
//     Hive-style key (table/key=value/.../table.csv). Writes are
//     replace-whole-partition and deterministic, so reruns are safe.
//  3. Catalog synchronization: written partitions are registered in the
//     catalog in one idempotent batch per table; a typed view over the
//     raw CSV table restores semantic types at query time.
//
// Tables are independent units of work. One table's failure is reported
// in the run report and never aborts the rest of the run.
//
// # Key Packages
//
//	pkg/schema    - Table definitions, partition keys, value coercion
//	pkg/source    - Datasource connectors (MySQL, Postgres, MongoDB, CSV)
//	pkg/planner   - Partition planning and incremental windows
//	pkg/layout    - Hive-partitioned CSV serialization
//	pkg/storage   - Object stores (S3, local directory)
//	pkg/catalog   - Catalog providers (Athena, Glue) and DDL builders
//	pkg/config    - YAML settings with ${VAR} substitution
//	pkg/errors    - Structured error handling
//	pkg/logger    - Structured logging
//
// # Quick Start
//
// Extract and load everything a settings file declares:
//
//	lakelift run --settings settings.yaml
//
// Declare catalog tables and views without extracting:
//
//	lakelift create-tables --settings settings.yaml
//	lakelift create-views --settings settings.yaml
//
// Discover table fields from the sources and persist them:
//
//	lakelift set-fields --settings settings.yaml
package lakelift
