// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Storage.Volumes = append([]VolumeConfig(nil), s.Storage.Volumes...)
	out.Storage.NAS = append([]NASConfig(nil), s.Storage.NAS...)
	out.Storage.FormatCommand = append([]string(nil), s.Storage.FormatCommand...)
	if s.Storage.Groups != nil {
		out.Storage.Groups = make([]GroupConfig, len(s.Storage.Groups))
		for i, g := range s.Storage.Groups {
			out.Storage.Groups[i] = GroupConfig{
				Name:    g.Name,
				Volumes: append([]int(nil), g.Volumes...),
				Cameras: append([]int(nil), g.Cameras...),
			}
		}
	}
	out.Storage.Retention.CameraDays = cloneIntMap(s.Storage.Retention.CameraDays)
	out.Backup.CameraDays = cloneIntMap(s.Backup.CameraDays)
	out.Recording.CameraConfigs = append([]CameraRecord(nil), s.Recording.CameraConfigs...)
	return out
}

func cloneIntMap(m map[int]int) map[int]int {
	if m == nil {
		return nil
	}
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
