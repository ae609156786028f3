package rtu485

import "sort"

// maxGroupSpan caps one merged read so its reply still fits the frame
// buffer.
const maxGroupSpan = maxReadQuantity

// GroupDeviceRegisters sorts registers by slave, function and address, then
// merges overlapping or contiguous spans into groups that one bus read can
// cover each. Input order does not matter and the input is not modified.
func GroupDeviceRegisters(registers []DeviceRegister) [][]DeviceRegister {
	if len(registers) == 0 {
		return nil
	}
	sorted := make([]DeviceRegister, len(registers))
	copy(sorted, registers)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SlaverId != sorted[j].SlaverId {
			return sorted[i].SlaverId < sorted[j].SlaverId
		}
		if sorted[i].Function != sorted[j].Function {
			return sorted[i].Function < sorted[j].Function
		}
		return sorted[i].Address < sorted[j].Address
	})

	var groups [][]DeviceRegister
	current := []DeviceRegister{sorted[0]}
	start := sorted[0].Address
	end := sorted[0].Address + sorted[0].Quantity
	for _, r := range sorted[1:] {
		last := current[len(current)-1]
		rEnd := r.Address + r.Quantity
		newEnd := end
		if rEnd > newEnd {
			newEnd = rEnd
		}
		mergeable := r.SlaverId == last.SlaverId &&
			r.Function == last.Function &&
			r.Address <= end &&
			int(newEnd)-int(start) <= maxGroupSpan
		if mergeable {
			current = append(current, r)
			end = newEnd
			continue
		}
		groups = append(groups, current)
		current = []DeviceRegister{r}
		start = r.Address
		end = rEnd
	}
	return append(groups, current)
}

// groupSpan returns the covering read window of one group.
func groupSpan(group []DeviceRegister) (start, quantity uint16) {
	start = group[0].Address
	end := start
	for _, r := range group {
		if r.Address+r.Quantity > end {
			end = r.Address + r.Quantity
		}
	}
	return start, end - start
}
