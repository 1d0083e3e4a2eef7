// Package domain models the data moved by the archive extraction pipeline.
//
// # Data Source
//
// Hourly observations come from the Open-Meteo historical archive API
// (https://archive-api.open-meteo.com/v1/archive). One request covers a batch
// of coordinates and a single calendar-month slice of the overall date range;
// the response carries, per location, a shared hourly timestamp series plus
// one equal-length value series per weather variable. The pipeline requests
// three variables: temperature_2m (°C), wind_speed_10m (m/s) and
// precipitation (mm).
//
// # Identity
//
// Cities live in the relational identity store (`cities` table) with stable
// ids. Locations loaded from that store carry an id; locations loaded from a
// plain coordinate file do not. Externally produced weather rows are matched
// back to a city by coordinate equality after rounding both sides to six
// decimal places (~11 cm at the equator), which absorbs float formatting
// differences between the file and the store. Two cities that collide on a
// rounded coordinate resolve to whichever was read later.
//
// # Date ranges
//
// A requested range is inclusive on both ends and is decomposed into
// calendar-month sub-ranges clipped to the original bounds, so the union of
// the sub-ranges equals the request and no sub-range crosses a month
// boundary. See [MonthRanges].
package domain
