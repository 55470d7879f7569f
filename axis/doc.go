// Package axis models the two physical axes of the rotation table.
//
// It provides the closed [Name] enumeration used on the wire (AZ, EL), the
// [State] snapshot reported by the device for one axis, and the pure angle
// mapping that turns a desired angle into an absolute step position.
//
// # Angle Mapping
//
// Step positions are absolute counts in the device's coordinate system. The
// reference position recorded by the last homing run is angle zero, and
// State.TotalSteps steps make one full revolution.
//
// [TargetStep] normalizes the requested angle into [0, 2π). Angles up to π
// are reached by stepping forward from the reference position, larger angles
// by stepping backward by the complementary angle. The table therefore never
// travels more than half a turn away from the reference position and never
// crosses it while winding through a full revolution.
package axis
